// Package middleware provides composable middleware for request
// delivery. Middleware wraps executor calls synchronously and can
// modify execution (recover from panics, log, time out, add metrics
// and tracing).
//
// The chain sits between the worker and the HTTP executor: it sees the
// decoded request and the response or transport error, but never the
// retry decision. Retry classification happens in the worker after the
// chain returns.
package middleware
