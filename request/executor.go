package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Executor performs the actual delivery of a request. The worker pool
// calls it at least once per job; implementations (and the callees they
// reach) must tolerate duplicate delivery.
type Executor interface {
	// Do sends the request and returns the response with its body fully
	// read. A non-nil error means the callee was not reached; the
	// returned response is nil in that case.
	Do(ctx context.Context, req *Request) (*Response, error)
}

// HTTPExecutor is the default Executor, delivering requests over a
// net/http client.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor returns an executor using the given client, or
// http.DefaultClient when client is nil.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExecutor{client: client}
}

// Do implements Executor.
func (e *HTTPExecutor) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("request: build http request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request: send: %w", err)
	}
	defer httpResp.Body.Close() //nolint:errcheck // read side

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("request: read response body: %w", err)
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   respBody,
	}, nil
}
