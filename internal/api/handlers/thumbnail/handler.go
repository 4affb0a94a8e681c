package thumbnail

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/thumby/internal/api/respond"
	"github.com/aliskhannn/thumby/internal/model"
)

// service defines the interface for thumbnail generation.
type service interface {
	Thumbnail(ctx context.Context, rc *model.RequestContext) (model.Thumbnail, error)
}

// Handler serves thumbnail requests for a single worker.
type Handler struct {
	service service
	log     zerolog.Logger
}

// NewHandler creates a new Handler with the given service and logger.
func NewHandler(s service, log zerolog.Logger) *Handler {
	return &Handler{service: s, log: log}
}

// Get serves a thumbnail for the file named in the request path.
// Every request gets a RequestContext that is released before Get returns.
func (h *Handler) Get(c *ginext.Context) {
	rc := model.NewRequestContext(c.Request.RequestURI)
	defer rc.Release()

	thumb, err := h.service.Thumbnail(c.Request.Context(), rc)
	if err != nil {
		status := statusFor(err)

		event := h.log.Warn()
		if status == http.StatusInternalServerError {
			event = h.log.Error()
		}
		event.Err(err).
			Str("request_id", rc.ID.String()).
			Str("uri", rc.URI).
			Int("status", status).
			Msg("thumbnail request failed")

		respond.Fail(c, status, rc.Message)
		return
	}

	respond.Image(c, thumb.ContentType, thumb.Data)
	rc.Advance(model.StateSent)

	h.log.Debug().
		Str("request_id", rc.ID.String()).
		Str("file", thumb.Filename).
		Int("width", thumb.Width).
		Int("height", thumb.Height).
		Int("bytes", len(thumb.Data)).
		Msg("thumbnail sent")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
