package request

import "net/http"

// Response is the outcome of delivering a Request, as stored in the
// completion record and handed back to SpawnReturning callers.
type Response struct {
	// Status is the HTTP status code the callee answered with.
	Status int `json:"status"`
	// Header is the response header collection.
	Header http.Header `json:"header,omitempty"`
	// Body is the response body, fully read.
	Body []byte `json:"body,omitempty"`
}
