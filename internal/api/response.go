package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/engramkit/engram/internal/engine"
)

// Response is the standard API envelope.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// SuccessResponse sends a success response.
func SuccessResponse(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, &Response{Success: true, Message: message, Data: data})
}

// CreatedResponse sends a 201 created response.
func CreatedResponse(c *gin.Context, message string, data any) {
	c.JSON(http.StatusCreated, &Response{Success: true, Message: message, Data: data})
}

// ErrorResponse sends an error response.
func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, &Response{Success: false, Message: message})
}

// EngineError maps an engine error kind to the matching HTTP status.
func EngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalid):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrConflict):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrCapacityExceeded):
		ErrorResponse(c, http.StatusInsufficientStorage, err.Error())
	case errors.Is(err, engine.ErrAdapterMissing):
		ErrorResponse(c, http.StatusNotImplemented, err.Error())
	default:
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
}
