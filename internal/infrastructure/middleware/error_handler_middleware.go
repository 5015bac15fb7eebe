package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lanrelay/pkg/errors"
)

// ErrorHandlerMiddleware renders the last error attached with c.Error as
// {"error": CODE, "message": ...}.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		code := errors.CodeOf(err)
		status := errors.HTTPStatus(code)

		message := err.Error()
		var details map[string]interface{}
		if re := errors.GetRelayError(err); re != nil {
			message = re.Message
			details = re.Context
		}
		if status >= http.StatusInternalServerError {
			logger.Errorw("admin request failed",
				"code", code,
				"error", err,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			message = "internal server error"
		}

		body := gin.H{"error": string(code), "message": message}
		if len(details) > 0 {
			body["details"] = details
		}
		c.JSON(status, body)
	}
}

// RecoveryMiddleware turns a panic in a handler into a 500 response.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorw("panic recovered",
					"error", rec,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "internal server error",
				})
			}
		}()
		c.Next()
	}
}
