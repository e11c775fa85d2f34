package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lotledger/internal/core/apperror"
	"lotledger/pkg/logger"
)

// ErrorHandler renders the last error registered on the context as JSON.
// Internal causes are logged and never sent to the client.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		status, body := ErrorBody(c, c.Errors.Last().Err)
		c.JSON(status, body)
	}
}

// ErrorBody maps err to a status code and response body.
func ErrorBody(c *gin.Context, err error) (int, gin.H) {
	if appErr, ok := apperror.AsAppError(err); ok {
		if appErr.Err != nil || appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Error(c.Request.Context(), "request error",
				"code", appErr.Code,
				"cause", appErr.Err,
			)
		}
		return appErr.HTTPStatus, gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
			"details": appErr.Details,
		}
	}

	logger.Error(c.Request.Context(), "unhandled error", "error", err)
	return http.StatusInternalServerError, gin.H{
		"code":    apperror.CodeInternal,
		"message": "Internal server error",
		"details": map[string]any{
			"request_id": c.GetString("request_id"),
		},
	}
}
