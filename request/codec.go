package request

import (
	"encoding/json"
	"fmt"
)

// Marshal encodes the request into the opaque payload bytes stored with
// a job.
func (r *Request) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("request: marshal: %w", err)
	}
	return data, nil
}

// UnmarshalRequest reconstitutes a request from stored payload bytes.
// A failure here is permanent: retrying cannot fix a malformed payload.
func UnmarshalRequest(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("request: unmarshal payload: %w", err)
	}
	if r.Method == "" || r.URL == "" {
		return nil, fmt.Errorf("request: payload missing method or url")
	}
	return &r, nil
}

// Marshal encodes the response for the completion record.
func (r *Response) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("request: marshal response: %w", err)
	}
	return data, nil
}

// UnmarshalResponse reconstitutes a response from a completion record.
func UnmarshalResponse(data []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("request: unmarshal response: %w", err)
	}
	return &r, nil
}
