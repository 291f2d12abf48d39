package backend

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
)

// FallbackMessage is surfaced when a failure carries no message of its
// own.
const FallbackMessage = "request failed"

// Error is a server-reported failure with its message extracted, so
// consumers never branch on error shape.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if len(e.Message) > 0 {
		return e.Message
	}
	return http.StatusText(e.StatusCode)
}

// newError extracts the message from a structured
// {"error":{"message":...}} body, falling back to the status text.
func newError(statusCode int, body []byte) *Error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Error.Message) > 0 {
			msg = payload.Error.Message
		} else {
			msg = payload.Message
		}
	}
	if len(msg) == 0 {
		msg = http.StatusText(statusCode)
	}
	return &Error{StatusCode: statusCode, Message: msg}
}

// ErrorMessage normalizes any failure to a single human-readable
// message: a structured error payload's message field, else the error's
// own message, else a generic fallback.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && len(apiErr.Message) > 0 {
		return apiErr.Message
	}
	if msg := err.Error(); len(msg) > 0 {
		return msg
	}
	return FallbackMessage
}
