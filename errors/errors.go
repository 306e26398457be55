package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type CustomError struct {
	Code    int
	Message string
}

func (e *CustomError) Error() string {
	return e.Message
}

func Technical(format string, args ...any) error {
	return &CustomError{
		Code:    http.StatusInternalServerError,
		Message: fmt.Sprintf(format, args...),
	}
}

func BadRequest(format string, args ...any) error {
	return &CustomError{
		Code:    http.StatusBadRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

func Unauthorized(format string, args ...any) error {
	return &CustomError{
		Code:    http.StatusUnauthorized,
		Message: fmt.Sprintf(format, args...),
	}
}

func NotFound(format string, args ...any) error {
	return &CustomError{
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

func Conflict(format string, args ...any) error {
	return &CustomError{
		Code:    http.StatusConflict,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return GetStatusCode(err) == http.StatusNotFound
}

// GetStatusCode extracts the HTTP status code from an error chain.
func GetStatusCode(err error) int {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return http.StatusInternalServerError
}
