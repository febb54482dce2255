package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/response"
)

// BodyLimit returns a middleware that rejects request bodies larger than
// maxSize bytes. A declared Content-Length above the limit is refused
// before anything is read; otherwise the body is wrapped with
// http.MaxBytesReader so reads past the limit fail.
func BodyLimit(maxSize int64) gin.HandlerFunc {
	if maxSize <= 0 {
		maxSize = 4 << 20
	}

	return func(c *gin.Context) {
		req := c.Request
		if req.ContentLength > maxSize {
			logger.Warnw("request body too large",
				"path", req.URL.Path,
				"content_length", req.ContentLength,
				"max_size", maxSize,
			)
			response.Fail(c, errors.ErrRequestTooLarge.WithMessagef("request body exceeds %d bytes", maxSize))
			return
		}

		if req.Body != nil {
			req.Body = http.MaxBytesReader(c.Writer, req.Body, maxSize)
		}
		c.Next()
	}
}
