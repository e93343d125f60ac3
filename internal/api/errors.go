package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSessionExpired is returned when a 401 carried the invalid-token signal
// and the refresh attempt also failed. Callers must force re-authentication;
// the request is not retried and never queued.
var ErrSessionExpired = errors.New("session expired")

// Error is a response the server actually produced: a non-2xx status plus
// the backend's {code, message} envelope. Body keeps the raw payload for
// callers that need more than the envelope, like conflict details on a 409.
type Error struct {
	Status  int
	Code    string
	Message string
	Body    []byte
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Code)
}

// NetworkError means no response was received at all: DNS failure, timeout,
// connection refused, offline. These are the only failures the entity layer
// mirrors into the mutation queue.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("api: network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether the request never reached the server.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsSessionExpired reports whether the error means the user must sign in again.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// StatusOf returns the HTTP status carried by err, or 0 when err is not a
// server response.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// IsPermanent reports whether retrying cannot fix the failure: a 4xx
// response other than request-timeout or rate-limit.
func IsPermanent(err error) bool {
	s := StatusOf(err)
	if s < 400 || s >= 500 {
		return false
	}
	return s != http.StatusRequestTimeout && s != http.StatusTooManyRequests
}

// IsTransient reports whether the failure is plausibly fixed by retrying:
// network loss, timeout, rate limit, or a server-side error.
func IsTransient(err error) bool {
	if IsNetworkError(err) {
		return true
	}
	s := StatusOf(err)
	return s == http.StatusRequestTimeout || s == http.StatusTooManyRequests || s >= 500
}
