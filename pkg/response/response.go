// Package response writes JSON responses for the gin handlers. Successful
// responses carry the payload as is; failures are rendered from an Errno as
// {"detail": "...", "code": N} with the Errno's HTTP status.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docask/pkg/errors"
)

// ErrorBody is the body of every failed request.
type ErrorBody struct {
	// Detail is a human-readable description of the failure.
	Detail string `json:"detail"`
	// Code is the DocAsk error code.
	Code int `json:"code"`
}

// OK writes data with status 200.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// JSON writes data with the given status.
func JSON(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// Fail writes err as an ErrorBody and aborts the handler chain. Errors
// that are not an Errno are reported as internal errors without leaking
// their text.
func Fail(c *gin.Context, err error) {
	e := errors.FromError(err)

	status := e.HTTPStatus()
	detail := e.Detail()
	if status >= http.StatusInternalServerError && e.Code == errors.ErrInternal.Code {
		detail = errors.ErrInternal.MessageEN
	}

	fields := []any{
		"code", e.Code,
		"status", status,
		"path", c.Request.URL.Path,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed", fields...)
	} else {
		logger.Debugw("request rejected", fields...)
	}

	c.AbortWithStatusJSON(status, ErrorBody{Detail: detail, Code: e.Code})
}
