package helpdesk

import (
	"errors"
	"fmt"
)

var (
	// ErrNilRequest is returned when Submit is called without a request builder.
	ErrNilRequest = errors.New("helpdesk: request builder is nil")

	// ErrNoResponse is returned when the transport produced neither a
	// response nor an error.
	ErrNoResponse = errors.New("helpdesk: no response received")
)

// AuthError reports a failed token request. The message comes from the token
// endpoint's "error" field when present.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "helpdesk: authentication failed: " + e.Message
}

// StatusError reports a non-2xx response when the caller demanded success.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helpdesk: unsuccessful response: %s", e.Status)
}
