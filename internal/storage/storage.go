// Package storage holds what the image sources share.
package storage

import "errors"

// ErrObjectNotFound is returned when the requested image does not exist in
// the source.
var ErrObjectNotFound = errors.New("object not found")
