package server

import (
	"net/http"
	"time"
)

// New creates the HTTP server of one worker. Handler logic is not bounded
// in time; only idle and header reads are.
func New(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
