// Package model defines shared types for the relay.
package model

import (
	"net/http"
)

// Request describes one outbound exchange to be dispatched by the runtime.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	return &Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
	}
}

// Response is the head of a response received for an exchange.
// ContentLength is -1 when the length is not known in advance.
type Response struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
}

// Status returns the status code, or 0 for a nil response.
func (r *Response) Status() int {
	if r == nil {
		return 0
	}
	return r.StatusCode
}
