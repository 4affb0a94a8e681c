package respond

import (
	"net/http"
	"strconv"

	"github.com/wb-go/wbf/ginext"
)

// Error represents a standard structure for error responses.
type Error struct {
	Message string `json:"message"`
}

// Image writes an encoded image as a 200 OK response. The connection is
// closed after the body and Content-Length matches the data exactly.
func Image(c *ginext.Context, contentType string, data []byte) {
	c.Header("Connection", "close")
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Data(http.StatusOK, contentType, data)
}

// JSON sends a JSON response with the specified HTTP status code and data.
func JSON(c *ginext.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// Fail sends an error JSON response with the specified HTTP status code
// and closes the connection afterwards.
// The error message is wrapped in an Error struct.
func Fail(c *ginext.Context, status int, message string) {
	c.Header("Connection", "close")
	JSON(c, status, Error{Message: message})
}
