package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/thumby/internal/api/handlers/thumbnail"
)

// Setup builds the router of one worker. Every request, matched or not,
// goes through the thumbnail handler, which owns route validation on the
// raw request target.
func Setup(prefix string, h *thumbnail.Handler) *ginext.Engine {
	r := ginext.New()

	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.Any(prefix+"*filename", h.Get) // thumbnail by filename
	r.NoRoute(h.Get)

	return r
}
