package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/response"
)

// PanicHandler is called with the panic value and stack after a panic is
// recovered and logged.
type PanicHandler func(c *gin.Context, err any, stack []byte)

// Recovery returns a middleware that recovers from panics.
func Recovery() gin.HandlerFunc {
	return RecoveryWithHandler(nil)
}

// RecoveryWithHandler returns a Recovery middleware that also calls onPanic.
// The stack trace is always logged and never returned to the client.
func RecoveryWithHandler(onPanic PanicHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Errorw("panic recovered",
					"panic", r,
					"stack_trace", string(stack),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"request_id", GetRequestID(c.Request.Context()),
				)

				if onPanic != nil {
					onPanic(c, r, stack)
				}

				response.Fail(c, errors.ErrPanic)
			}
		}()
		c.Next()
	}
}
