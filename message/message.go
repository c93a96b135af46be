// Package message defines the call protocol shapes exchanged between a proxy and its worker.
//
// A Request asks the worker to invoke (or read) a member of its target object; a Response
// settles exactly one Request. Ready is sent once by the worker, before any Response, after
// its target has been constructed. The correlation id travels in the frame header (see
// package protocol); the ID fields below mirror it and are not part of the encoded body.
package message

import "encoding/json"

// Status discriminates successful and failed responses.
type Status byte

const (
	StatusSuccess Status = 0
	StatusFailure Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Request carries one member invocation.
//
//   - Member names the method or property on the remote target, e.g. "identity".
//   - Args holds the positional arguments, each one a JSON value.
type Request struct {
	ID     uint32            `json:"-"`
	Member string            `json:"member"`
	Args   []json.RawMessage `json:"args"`
}

// Response carries the outcome of one Request.
//
//   - On success: Payload holds the JSON value ("null" when the member returns nothing).
//   - On failure: Error holds the human-readable failure description.
type Response struct {
	ID      uint32          `json:"-"`
	Status  Status          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Ready is the readiness signal. Members lists the names the target answers to.
type Ready struct {
	Members []string `json:"members"`
}

var null = json.RawMessage("null")

// Success builds a successful response carrying payload.
func Success(payload json.RawMessage) *Response {
	if len(payload) == 0 {
		payload = null
	}
	return &Response{Status: StatusSuccess, Payload: payload}
}

// Failure builds a failed response carrying the description.
func Failure(description string) *Response {
	return &Response{Status: StatusFailure, Error: description}
}

// Failed reports whether the response settles its call with an error.
func (r *Response) Failed() bool {
	return r.Status == StatusFailure
}
