// Package apierror renders HTTP API errors as JSON.
package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Error structured API error.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Detail     string `json:"detail"`
}

func (e *Error) Error() string {
	return e.Detail
}

// ToJSON encodes the error body.
func (e *Error) ToJSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

func BadRequest(detail string) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "BAD_REQUEST", Detail: detail}
}

func NotFound(detail string) *Error {
	return &Error{StatusCode: http.StatusNotFound, Code: "NOT_FOUND", Detail: detail}
}

func Internal(detail string) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Detail: detail}
}

// BadGateway upstream dependency failed.
func BadGateway(detail string) *Error {
	return &Error{StatusCode: http.StatusBadGateway, Code: "UPSTREAM_ERROR", Detail: detail}
}

func Unavailable(detail string) *Error {
	return &Error{StatusCode: http.StatusServiceUnavailable, Code: "UNAVAILABLE", Detail: detail}
}

// Write sends err as a JSON error response. Errors that are not *Error become 500s.
func Write(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal(err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	_, _ = w.Write(apiErr.ToJSON())
}
