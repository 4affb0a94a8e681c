package model

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
)

var (
	// ErrBadRequest means the request URI is malformed or cannot be decoded.
	ErrBadRequest = errors.New("bad request")
	// ErrNotFound means the route did not match or the source file is unreadable.
	ErrNotFound = errors.New("document was not found")
	// ErrInternal covers resize, encode and any unclassified failure.
	ErrInternal = errors.New("internal server error")
)

// State is a step of the thumbnail request state machine.
type State int

const (
	StateReceived State = iota
	StateRouteMatched
	StateFilenameExtracted
	StateQueryParsed
	StateSourceLoaded
	StateResized
	StateHeadersSet
	StateSent
	StateError
)

var stateNames = [...]string{
	StateReceived:          "received",
	StateRouteMatched:      "route_matched",
	StateFilenameExtracted: "filename_extracted",
	StateQueryParsed:       "query_parsed",
	StateSourceLoaded:      "source_loaded",
	StateResized:           "resized",
	StateHeadersSet:        "headers_set",
	StateSent:              "sent",
	StateError:             "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSent || s == StateError
}

// RequestContext is the working state of a single thumbnail request.
// It is created when a request reaches a worker and released before the
// handler returns.
type RequestContext struct {
	ID       uuid.UUID
	URI      string
	Filename string
	Params   ThumbnailParameters

	State   State
	Code    int
	Message string

	cleanup  []func()
	released bool
}

// NewRequestContext creates a context in the received state. The outcome
// defaults to an internal error until a transition records something else.
func NewRequestContext(uri string) *RequestContext {
	return &RequestContext{
		ID:      uuid.New(),
		URI:     uri,
		State:   StateReceived,
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
}

// Advance moves the context to the next state.
func (rc *RequestContext) Advance(s State) {
	rc.State = s
}

// Fail records the outcome of a failed request and moves it to the error state.
func (rc *RequestContext) Fail(code int, message string) {
	rc.State = StateError
	rc.Code = code
	rc.Message = message
}

// Defer registers fn to run on Release.
func (rc *RequestContext) Defer(fn func()) {
	rc.cleanup = append(rc.cleanup, fn)
}

// Release runs the registered cleanups in reverse order. It is safe to call
// more than once; only the first call has an effect.
func (rc *RequestContext) Release() {
	if rc.released {
		return
	}
	rc.released = true

	for i := len(rc.cleanup) - 1; i >= 0; i-- {
		rc.cleanup[i]()
	}
	rc.cleanup = nil
}

// Released reports whether Release has run.
func (rc *RequestContext) Released() bool {
	return rc.released
}
