// Package engine decodes, resizes and encodes images.
//
// The engine has a process-wide lifecycle: Init is called once before any
// handle is created and Shutdown once after every worker has stopped. Each
// worker owns exactly one Handle and resets it after every request, so a
// Handle is never shared and needs no locking.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

var (
	ErrNotInitialized = errors.New("engine is not initialized")
	ErrInitialized    = errors.New("engine is already initialized")
	ErrNotEmpty       = errors.New("handle still holds an image")
	ErrEmpty          = errors.New("handle holds no image")
	ErrDecode         = errors.New("failed to decode image")
	ErrResize         = errors.New("failed to resize image")
	ErrEncode         = errors.New("failed to encode image")
)

// fileStorage is where source images are read from (local FS, S3, MinIO).
type fileStorage interface {
	Load(ctx context.Context, name string) (io.ReadCloser, error)
}

var (
	mu          sync.Mutex
	initialized bool
	liveHandles atomic.Int64
)

// Init prepares the engine for use. It must be called exactly once per
// process before New.
func Init() error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return ErrInitialized
	}
	initialized = true

	return nil
}

// Shutdown tears the engine down. It returns the number of handles that
// were still open, which is zero after a clean worker shutdown.
func Shutdown() int64 {
	mu.Lock()
	defer mu.Unlock()

	initialized = false

	return liveHandles.Load()
}

// Initialized reports whether Init has been called without a matching Shutdown.
func Initialized() bool {
	mu.Lock()
	defer mu.Unlock()

	return initialized
}

// Handle holds the state of one image between decode and encode.
// It is owned by a single worker and must be reset after every use.
type Handle struct {
	fileStorage fileStorage

	raw     []byte
	img     image.Image
	format  Format
	resized bool
	closed  bool
}

// New creates a Handle that reads source images from fs.
func New(fs fileStorage) (*Handle, error) {
	if !Initialized() {
		return nil, ErrNotInitialized
	}
	liveHandles.Add(1)

	return &Handle{fileStorage: fs}, nil
}

// Close releases the handle. The handle must not be used afterwards.
func (h *Handle) Close() {
	if h.closed {
		return
	}
	h.Reset()
	h.closed = true
	liveHandles.Add(-1)
}

// Empty reports whether the handle holds no image state.
func (h *Handle) Empty() bool {
	return h.raw == nil && h.img == nil && h.format == FormatUnknown && !h.resized
}

// Reset drops every piece of image state held by the handle.
func (h *Handle) Reset() {
	h.raw = nil
	h.img = nil
	h.format = FormatUnknown
	h.resized = false
}

// Decode loads the named image from storage and decodes it into the handle.
// The handle must be empty.
func (h *Handle) Decode(ctx context.Context, name string) error {
	if !h.Empty() {
		return ErrNotEmpty
	}

	// Load the original image from storage.
	src, err := h.fileStorage.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load original image: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("failed to read original image: %w", err)
	}

	format := formatFromMIME(mimetype.Detect(data).String())
	if format == FormatUnknown {
		return fmt.Errorf("%w: unsupported format", ErrDecode)
	}

	// Decode into an image object.
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	h.raw = data
	h.img = img
	h.format = format

	return nil
}

// Dimensions returns the width and height of the held image.
func (h *Handle) Dimensions() (int, int) {
	if h.img == nil {
		return 0, 0
	}
	b := h.img.Bounds()
	return b.Dx(), b.Dy()
}

// Format returns the format of the held image.
func (h *Handle) Format() Format {
	return h.format
}

// Resize scales the held image to exactly width x height.
func (h *Handle) Resize(width, height int) error {
	if h.img == nil {
		return ErrEmpty
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid size %dx%d", ErrResize, width, height)
	}

	resized := imaging.Resize(h.img, width, height, imaging.Lanczos)
	if resized.Bounds().Empty() {
		return fmt.Errorf("%w: empty result", ErrResize)
	}

	h.img = resized
	h.resized = true

	return nil
}

// Encode serializes the held image. An image that was never resized is
// returned byte for byte as it was read. Formats without an encoder are
// written as PNG.
func (h *Handle) Encode() ([]byte, Format, error) {
	if h.img == nil {
		return nil, FormatUnknown, ErrEmpty
	}
	if !h.resized {
		return h.raw, h.format, nil
	}

	format := h.format
	out, ok := format.imaging()
	if !ok {
		format = FormatPNG
		out = imaging.PNG
	}

	// Encode resized image into buffer.
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, h.img, out); err != nil {
		return nil, FormatUnknown, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	return buf.Bytes(), format, nil
}
