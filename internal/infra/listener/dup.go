package listener

import (
	"fmt"
	"net"
	"os"
)

type filer interface {
	File() (*os.File, error)
}

// Dup returns a listener on a duplicate descriptor of ln's socket. Both
// accept from the same queue. Closing the duplicate wakes an Accept blocked
// on it and leaves ln open.
func Dup(ln net.Listener) (net.Listener, error) {
	fl, ok := ln.(filer)
	if !ok {
		return nil, fmt.Errorf("duplicate listener: %T has no file descriptor", ln)
	}

	f, err := fl.File()
	if err != nil {
		return nil, fmt.Errorf("duplicate listener: %w", err)
	}
	defer f.Close()

	dup, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("duplicate listener: %w", err)
	}

	return dup, nil
}
