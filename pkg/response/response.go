package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/jobportal/identity/pkg/errors"
)

// Success sends a successful JSON response
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// Error sends an error JSON response
func Error(c *gin.Context, err error) {
	if appErr, ok := apperrors.As(err); ok {
		c.JSON(appErr.Status, body(appErr.Code, appErr.Message))
		return
	}

	// Default internal server error
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, body(apperrors.ErrCodeInternalError, "Internal server error"))
}

// Abort sends an error JSON response and stops the handler chain
func Abort(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.Status, body(appErr.Code, appErr.Message))
}

// ValidationError sends a validation error response
func ValidationError(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, body(apperrors.ErrCodeValidationFailed, message))
}

func body(code, message string) gin.H {
	return gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
