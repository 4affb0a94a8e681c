package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aliskhannn/thumby/internal/engine"
	"github.com/aliskhannn/thumby/internal/model"
)

const (
	// DefaultPrefix is the path segment every thumbnail request starts with.
	DefaultPrefix = "/thumb/"

	defaultContentType = "application/octet-stream"
	notFoundMessage    = "Document was not found"
	badRequestMessage  = "Bad Request"
	internalMessage    = "Internal Server Error"
)

// imageEngine is the per-worker handle that decodes, resizes and encodes images.
type imageEngine interface {
	Decode(ctx context.Context, name string) error
	Dimensions() (int, int)
	Resize(width, height int) error
	Encode() ([]byte, engine.Format, error)
	Reset()
}

// Service turns a request URI into an encoded thumbnail.
// A Service is bound to one engine handle and must only be used from the
// worker that owns that handle.
type Service struct {
	engine imageEngine
	prefix string
	limits model.Limits
}

// NewService creates a new Service on top of the given engine handle.
func NewService(e imageEngine, prefix string, limits model.Limits) *Service {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Service{engine: e, prefix: prefix, limits: limits}
}

// Thumbnail drives rc from the received state up to the point where the
// response headers are known. Every failure moves rc to the error state with
// the status and message to reply with, and returns an error wrapping one of
// model.ErrBadRequest, model.ErrNotFound or model.ErrInternal.
//
// The engine handle is reset when rc is released, on every path.
func (s *Service) Thumbnail(ctx context.Context, rc *model.RequestContext) (model.Thumbnail, error) {
	rc.Defer(s.engine.Reset)

	if !s.matchRoute(rc.URI) {
		return s.fail(rc, http.StatusNotFound, notFoundMessage, model.ErrNotFound, "route not matched")
	}
	rc.Advance(model.StateRouteMatched)

	u, err := url.ParseRequestURI(rc.URI)
	if err != nil {
		return s.fail(rc, http.StatusBadRequest, badRequestMessage, model.ErrBadRequest, err.Error())
	}

	filename := lastSegment(u.Path)
	if filename == "" {
		// No source can be read under an empty name.
		return s.fail(rc, http.StatusNotFound, notFoundMessage, model.ErrNotFound, "empty filename")
	}
	rc.Filename = filename
	rc.Advance(model.StateFilenameExtracted)

	// ParseQuery keeps every pair it managed to parse before an error.
	query, _ := url.ParseQuery(u.RawQuery)
	rc.Params = s.limits.Normalize(parseDimension(query.Get("w")), parseDimension(query.Get("h")))
	rc.Advance(model.StateQueryParsed)

	if err := s.engine.Decode(ctx, rc.Filename); err != nil {
		if errors.Is(err, engine.ErrNotEmpty) {
			return s.fail(rc, http.StatusInternalServerError, internalMessage, model.ErrInternal, err.Error())
		}
		return s.fail(rc, http.StatusNotFound, notFoundMessage, model.ErrNotFound, err.Error())
	}
	rc.Advance(model.StateSourceLoaded)

	if !rc.Params.Passthrough() {
		srcW, srcH := s.engine.Dimensions()
		w, h := TargetSize(srcW, srcH, rc.Params)
		if err := s.engine.Resize(w, h); err != nil {
			return s.fail(rc, http.StatusInternalServerError, internalMessage, model.ErrInternal, err.Error())
		}
	}
	rc.Advance(model.StateResized)

	data, format, err := s.engine.Encode()
	if err != nil {
		return s.fail(rc, http.StatusInternalServerError, internalMessage, model.ErrInternal, err.Error())
	}
	if len(data) == 0 {
		return s.fail(rc, http.StatusInternalServerError, internalMessage, model.ErrInternal, "empty image data")
	}

	contentType := engine.MimeFor(format)
	if contentType == "" {
		contentType = defaultContentType
	}

	outW, outH := s.engine.Dimensions()
	rc.Code = http.StatusOK
	rc.Message = "OK"
	rc.Advance(model.StateHeadersSet)

	return model.Thumbnail{
		Filename:    rc.Filename,
		ContentType: contentType,
		Data:        data,
		Width:       outW,
		Height:      outH,
	}, nil
}

// matchRoute reports whether uri starts with the prefix and has no path
// separators beyond the ones in the prefix and the filename. The query
// string is counted too.
func (s *Service) matchRoute(uri string) bool {
	return strings.HasPrefix(uri, s.prefix) && strings.Count(uri, "/") == strings.Count(s.prefix, "/")
}

func (s *Service) fail(rc *model.RequestContext, code int, message string, kind error, reason string) (model.Thumbnail, error) {
	rc.Fail(code, message)
	return model.Thumbnail{}, fmt.Errorf("%s: %w", reason, kind)
}

// TargetSize computes the output size for a source of srcW x srcH.
// A zero dimension is derived from the other one, keeping the aspect ratio
// and truncating toward zero; the result is never smaller than 1.
func TargetSize(srcW, srcH int, p model.ThumbnailParameters) (int, int) {
	w, h := p.Width, p.Height

	switch {
	case w == 0 && h == 0:
		return srcW, srcH
	case w == 0:
		ratio := float64(srcH) / float64(h)
		w = int(float64(srcW) / ratio)
	case h == 0:
		ratio := float64(srcW) / float64(w)
		h = int(float64(srcH) / ratio)
	}

	return max(w, 1), max(h, 1)
}

func lastSegment(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[i+1:]
}

// parseDimension parses a base-10 size. Missing or malformed input yields 0.
func parseDimension(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
