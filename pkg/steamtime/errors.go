package steamtime

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport indicates the time request failed at the network level.
	ErrTransport = errors.New("steamtime: transport failure")

	// ErrTimeout indicates the time request did not complete within the
	// configured timeout.
	ErrTimeout = errors.New("steamtime: request timed out")

	// ErrInvalidResponseBody indicates the time endpoint returned a body that
	// is not valid JSON.
	ErrInvalidResponseBody = errors.New("steamtime: invalid response body")

	// ErrInvalidTimeResponse indicates a well formed response that lacks a
	// usable server time.
	ErrInvalidTimeResponse = errors.New("steamtime: invalid time response")

	// ErrInvalidConfig indicates the clock configuration is invalid.
	ErrInvalidConfig = errors.New("steamtime: invalid configuration")

	// ErrNilClock indicates a nil clock was used.
	ErrNilClock = errors.New("steamtime: clock is nil")
)

// maxBodyInError bounds how much of a bad response body is kept for
// diagnostics.
const maxBodyInError = 512

// ResponseError describes a time endpoint response that could not be
// parsed. Body holds the raw response for diagnostics.
type ResponseError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *ResponseError) Error() string {
	body := e.Body
	if len(body) > maxBodyInError {
		body = body[:maxBodyInError]
	}
	return fmt.Sprintf("status %d: %v: body %q", e.StatusCode, e.Err, body)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}
