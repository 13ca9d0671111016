// Package request defines the HTTP request description that travels
// through the queue, the response it eventually produces, and the
// Executor capability that performs the actual delivery.
//
// The queue core never interprets payload bytes itself; Marshal and
// UnmarshalRequest are the only bridge between a Request and the opaque
// payload column in the store.
package request

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Request is an HTTP request to be sent through the job queue.
type Request struct {
	// Method is the HTTP method to connect with.
	Method string `json:"method"`
	// URL is the absolute target address.
	URL string `json:"url"`
	// Header is the header collection to send.
	Header http.Header `json:"header,omitempty"`
	// Body is the optional request body.
	Body []byte `json:"body,omitempty"`
	// Accept is the set of response filters which complete the job
	// instead of causing a retry. Empty means accept 2xx only.
	Accept []Accept `json:"accept,omitempty"`
}

// New constructs a request after validating the target URL. The URL must
// be absolute.
func New(method, rawURL string, header http.Header, body []byte) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("request: parse url %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("request: url %q is not absolute", rawURL)
	}
	if method == "" {
		return nil, fmt.Errorf("request: empty method")
	}

	return &Request{
		Method: method,
		URL:    u.String(),
		Header: header,
		Body:   body,
	}, nil
}

// Get constructs a GET request for the given url.
func Get(rawURL string, header http.Header) (*Request, error) {
	return New(http.MethodGet, rawURL, header, nil)
}

// Head constructs a HEAD request for the given url.
func Head(rawURL string, header http.Header) (*Request, error) {
	return New(http.MethodHead, rawURL, header, nil)
}

// Post constructs a POST request with the given body.
func Post(rawURL string, header http.Header, body []byte) (*Request, error) {
	return New(http.MethodPost, rawURL, header, body)
}

// Put constructs a PUT request with the given body.
func Put(rawURL string, header http.Header, body []byte) (*Request, error) {
	return New(http.MethodPut, rawURL, header, body)
}

// Delete constructs a DELETE request with an optional body.
func Delete(rawURL string, header http.Header, body []byte) (*Request, error) {
	return New(http.MethodDelete, rawURL, header, body)
}

// FromHTTP converts a *net/http.Request into a queueable Request. The
// body, if present, is read through GetBody when available (client
// requests), otherwise drained from Body and replaced with an in-memory
// copy so the original request remains usable (server-received
// requests carry no GetBody).
func FromHTTP(r *http.Request) (*Request, error) {
	req, err := New(r.Method, r.URL.String(), r.Header.Clone(), nil)
	if err != nil {
		return nil, err
	}

	switch {
	case r.GetBody != nil:
		rc, bodyErr := r.GetBody()
		if bodyErr != nil {
			return nil, fmt.Errorf("request: read body: %w", bodyErr)
		}
		defer rc.Close() //nolint:errcheck // drained copy
		body, readErr := io.ReadAll(rc)
		if readErr != nil {
			return nil, fmt.Errorf("request: read body: %w", readErr)
		}
		req.Body = body
	case r.Body != nil && r.Body != http.NoBody:
		body, readErr := io.ReadAll(r.Body)
		if readErr != nil {
			return nil, fmt.Errorf("request: read body: %w", readErr)
		}
		_ = r.Body.Close() //nolint:errcheck // fully drained
		r.Body = io.NopCloser(bytes.NewReader(body))
		req.Body = body
	}

	return req, nil
}

// Accepted reports whether a response with the given status code
// completes this request. With no explicit filters only 2xx is accepted.
func (r *Request) Accepted(status int) bool {
	if len(r.Accept) == 0 {
		return AcceptSuccess.Accepts(status)
	}
	for _, a := range r.Accept {
		if a.Accepts(status) {
			return true
		}
	}
	return false
}

// AcceptAlso appends acceptance filters and returns the request for
// chaining.
func (r *Request) AcceptAlso(filters ...Accept) *Request {
	if len(r.Accept) == 0 {
		// Preserve the implicit 2xx default once filters become explicit.
		r.Accept = append(r.Accept, AcceptSuccess)
	}
	r.Accept = append(r.Accept, filters...)
	return r
}
