package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type JSONResponse struct {
	Status             bool        `json:"status"`
	Message            string      `json:"message"`
	Data               interface{} `json:"data,omitempty"`
	ShouldClearSession bool        `json:"shouldClearSession,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  code >= 200 && code < 300,
		Message: message,
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, err error) {
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: err.Error(),
		Data:    nil,
	})
}

// RespondAppError maps the error taxonomy onto HTTP. Errors outside the
// taxonomy are logged and reported as 500 without leaking their text.
func RespondAppError(c *gin.Context, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		ErrorLogger.WithField("path", c.Request.URL.Path).Errorf("unhandled error: %v", err)
		RespondError(c, http.StatusInternalServerError, errors.New("internal server error"))
		return
	}
	c.JSON(appErr.HTTPStatus(), JSONResponse{
		Status:             false,
		Message:            appErr.Message,
		ShouldClearSession: appErr.ShouldClearSession,
	})
}
