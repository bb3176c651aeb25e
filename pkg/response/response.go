package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
)

// Response is the envelope every studio API response uses.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo contains error details. Code is stable and machine-readable.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func requestID(c *gin.Context) string {
	return c.GetString(pkglog.FieldRequestID)
}

// Success sends a 200 response carrying data.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
	})
}

// Error aborts the request with an error response.
func Error(c *gin.Context, statusCode int, code, message string) {
	c.AbortWithStatusJSON(statusCode, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		RequestID: requestID(c),
	})
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "BAD_REQUEST", message)
}

// Unauthorized sends a 401 error response.
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// InternalError sends a 500 error response.
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}
