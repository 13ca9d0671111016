package request

// AcceptKind names a category of response codes an Accept filter matches.
type AcceptKind string

const (
	// KindSuccess accepts the 200-299 range.
	KindSuccess AcceptKind = "success"
	// KindRedirection accepts the 300-399 range.
	KindRedirection AcceptKind = "redirection"
	// KindClientError accepts the 400-499 range.
	KindClientError AcceptKind = "client_error"
	// KindServerError accepts the 500-599 range.
	KindServerError AcceptKind = "server_error"
	// KindSingle accepts one specific status code.
	KindSingle AcceptKind = "single"
	// KindRange accepts an inclusive status code range.
	KindRange AcceptKind = "range"
)

// Accept is a filter describing response status codes which complete a
// job instead of scheduling a retry.
type Accept struct {
	Kind AcceptKind `json:"kind"`
	// Code is the status matched by KindSingle.
	Code int `json:"code,omitempty"`
	// From and To bound the inclusive range matched by KindRange.
	From int `json:"from,omitempty"`
	To   int `json:"to,omitempty"`
}

// Category filters.
var (
	AcceptSuccess     = Accept{Kind: KindSuccess}
	AcceptRedirection = Accept{Kind: KindRedirection}
	AcceptClientError = Accept{Kind: KindClientError}
	AcceptServerError = Accept{Kind: KindServerError}
)

// AcceptStatus returns a filter accepting exactly the given status code.
func AcceptStatus(code int) Accept {
	return Accept{Kind: KindSingle, Code: code}
}

// AcceptRange returns a filter accepting the inclusive range [from, to].
func AcceptRange(from, to int) Accept {
	return Accept{Kind: KindRange, From: from, To: to}
}

// Accepts reports whether this filter accepts the given status code.
func (a Accept) Accepts(status int) bool {
	switch a.Kind {
	case KindSuccess:
		return status >= 200 && status <= 299
	case KindRedirection:
		return status >= 300 && status <= 399
	case KindClientError:
		return status >= 400 && status <= 499
	case KindServerError:
		return status >= 500 && status <= 599
	case KindSingle:
		return status == a.Code
	case KindRange:
		return status >= a.From && status <= a.To
	default:
		return false
	}
}
