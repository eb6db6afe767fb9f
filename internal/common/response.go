package common

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	CodeInternal    = "INTERNAL_SERVER_ERROR"
	MessageInternal = "An unexpected error occurred"
)

// Violation describes a single invalid field of a request
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Violations is returned by request validation
type Violations []Violation

func (v Violations) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details []Violation `json:"details,omitempty"`
}

// Response is the envelope of every API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

func write(w http.ResponseWriter, status int, resp *Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(b)

	return err
}

// Body writes a successful response with data
func Body(w http.ResponseWriter, data any) error {
	return write(w, http.StatusOK, &Response{
		Success: true,
		Data:    data,
	})
}

// JSON writes v as is, outside of the envelope
func JSON(w http.ResponseWriter, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(b)

	return err
}

// Error writes a failed response
func Error(w http.ResponseWriter, status int, code, message string, details Violations) error {
	return write(w, status, &Response{
		Error: &ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}
