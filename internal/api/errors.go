package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cankoe/reminder-scheduler/internal/notifier"
)

const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeNotFound       = "not_found"
	ErrCodeDatabaseError  = "database_error"
	ErrCodeInternal       = "internal_error"
)

type ApiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ApiError) Error() string {
	return e.Message
}

func invalidRequest(msg string) *ApiError {
	return &ApiError{Code: ErrCodeInvalidRequest, Message: msg}
}

func mapErrorToStatusCode(err error) (int, *ApiError) {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeInvalidRequest:
			return http.StatusBadRequest, apiErr
		case ErrCodeUnauthorized:
			return http.StatusUnauthorized, apiErr
		case ErrCodeNotFound:
			return http.StatusNotFound, apiErr
		case ErrCodeDatabaseError:
			return http.StatusInternalServerError, apiErr
		}
	}

	switch {
	case errors.Is(err, notifier.ErrInvalidAddress):
		return http.StatusBadRequest, &ApiError{Code: ErrCodeInvalidRequest, Message: "Invalid email address"}
	case errors.Is(err, notifier.ErrEventNotFound):
		return http.StatusNotFound, &ApiError{Code: ErrCodeNotFound, Message: "Event not found"}
	case errors.Is(err, notifier.ErrRepository):
		return http.StatusInternalServerError, &ApiError{Code: ErrCodeDatabaseError, Message: "Failed to access event storage"}
	}

	// Default unknown error
	return http.StatusInternalServerError, &ApiError{
		Code:    ErrCodeInternal,
		Message: "An unexpected error occurred",
	}
}

func abortWithError(c *gin.Context, err error) {
	statusCode, apiErr := mapErrorToStatusCode(err)
	c.AbortWithStatusJSON(statusCode, gin.H{"success": false, "error": apiErr})
}
