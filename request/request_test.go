package request_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/famedly/requeuest/request"
)

func TestNew_RejectsRelativeURL(t *testing.T) {
	if _, err := request.Get("/just/a/path", nil); err == nil {
		t.Error("expected error for relative url")
	}
}

func TestNew_RejectsEmptyMethod(t *testing.T) {
	if _, err := request.New("", "https://example.com/", nil, nil); err == nil {
		t.Error("expected error for empty method")
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	header := http.Header{}
	header.Set("Authorization", "Secret")

	orig, err := request.Post("https://example.com/", header, []byte("Some cool data"))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	payload, err := orig.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := request.UnmarshalRequest(payload)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.URL != orig.URL {
		t.Errorf("url = %q, want %q", decoded.URL, orig.URL)
	}
	if decoded.Method != orig.Method {
		t.Errorf("method = %q, want %q", decoded.Method, orig.Method)
	}
	if !bytes.Equal(decoded.Body, orig.Body) {
		t.Errorf("body = %q, want %q", decoded.Body, orig.Body)
	}
	if got := decoded.Header.Get("Authorization"); got != "Secret" {
		t.Errorf("header = %q, want %q", got, "Secret")
	}
}

func TestUnmarshalRequest_Malformed(t *testing.T) {
	if _, err := request.UnmarshalRequest([]byte("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
	if _, err := request.UnmarshalRequest([]byte(`{"url":"https://x/"}`)); err == nil {
		t.Error("expected error for payload missing method")
	}
}

func TestAccepted_Default(t *testing.T) {
	req, err := request.Get("https://example.com/", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	if !req.Accepted(200) || !req.Accepted(299) {
		t.Error("default filters should accept 2xx")
	}
	if req.Accepted(301) || req.Accepted(404) || req.Accepted(500) {
		t.Error("default filters should reject non-2xx")
	}
}

func TestAccept_Filters(t *testing.T) {
	cases := []struct {
		name   string
		filter request.Accept
		status int
		want   bool
	}{
		{"success hit", request.AcceptSuccess, 204, true},
		{"success miss", request.AcceptSuccess, 300, false},
		{"redirection hit", request.AcceptRedirection, 302, true},
		{"client error hit", request.AcceptClientError, 418, true},
		{"server error hit", request.AcceptServerError, 503, true},
		{"server error miss", request.AcceptServerError, 499, false},
		{"single hit", request.AcceptStatus(409), 409, true},
		{"single miss", request.AcceptStatus(409), 410, false},
		{"range hit", request.AcceptRange(400, 404), 402, true},
		{"range edge", request.AcceptRange(400, 404), 404, true},
		{"range miss", request.AcceptRange(400, 404), 405, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Accepts(tc.status); got != tc.want {
				t.Errorf("Accepts(%d) = %v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestAcceptAlso_KeepsDefault(t *testing.T) {
	req, err := request.Get("https://example.com/", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.AcceptAlso(request.AcceptStatus(409))

	if !req.Accepted(200) {
		t.Error("2xx should still be accepted after adding filters")
	}
	if !req.Accepted(409) {
		t.Error("409 should be accepted")
	}
	if req.Accepted(500) {
		t.Error("500 should not be accepted")
	}
}

func TestFromHTTP(t *testing.T) {
	httpReq, err := http.NewRequest(http.MethodPost, "https://foo.bar/", strings.NewReader("body"))
	if err != nil {
		t.Fatalf("build http request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Secret")

	req, err := request.FromHTTP(httpReq)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	if req.URL != "https://foo.bar/" {
		t.Errorf("url = %q, want %q", req.URL, "https://foo.bar/")
	}
	if req.Method != http.MethodPost {
		t.Errorf("method = %q, want POST", req.Method)
	}
	if req.Header.Get("Authorization") != "Secret" {
		t.Errorf("header = %q, want Secret", req.Header.Get("Authorization"))
	}
	if string(req.Body) != "body" {
		t.Errorf("body = %q, want %q", req.Body, "body")
	}
}

func TestFromHTTP_ServerReceivedBody(t *testing.T) {
	// A server-received request has Body set but no GetBody.
	httpReq := httptest.NewRequest(http.MethodPost, "https://foo.bar/", strings.NewReader("payload"))
	if httpReq.GetBody != nil {
		t.Fatal("server-shaped request unexpectedly has GetBody")
	}

	req, err := request.FromHTTP(httpReq)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if string(req.Body) != "payload" {
		t.Errorf("body = %q, want %q", req.Body, "payload")
	}

	// The original request's body must remain readable.
	rest, err := io.ReadAll(httpReq.Body)
	if err != nil {
		t.Fatalf("re-read body: %v", err)
	}
	if string(rest) != "payload" {
		t.Errorf("restored body = %q, want %q", rest, "payload")
	}
}

func TestHTTPExecutor_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if r.URL.Path != "/path" {
			t.Errorf("path = %q, want /path", r.URL.Path)
		}
		if r.URL.RawQuery != "query=foo&param=bar" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer: secret" {
			t.Errorf("header = %q", got)
		}
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer: secret")
	req, err := request.Get(srv.URL+"/path?query=foo&param=bar", header)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	resp, err := request.NewHTTPExecutor(nil).Do(context.Background(), req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if string(resp.Body) != "OK" {
		t.Errorf("body = %q, want OK", resp.Body)
	}
	if resp.Header.Get("X-Test") != "yes" {
		t.Errorf("response header missing")
	}
}

func TestHTTPExecutor_TransportError(t *testing.T) {
	// Port 1 is essentially guaranteed to refuse connections.
	req, err := request.Get("http://127.0.0.1:1/", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	resp, err := request.NewHTTPExecutor(nil).Do(context.Background(), req)
	if err == nil {
		t.Error("expected transport error")
	}
	if resp != nil {
		t.Error("response should be nil on transport error")
	}
}
