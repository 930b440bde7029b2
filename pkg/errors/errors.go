// Package errors defines the gateway's error taxonomy and its mapping to
// HTTP status codes. Sentinels cover every failure class a chat or ingest
// request can end in; components wrap them with context via fmt.Errorf so
// errors.Is still matches at the HTTP boundary.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAdmissionRejected covers both a full wait queue and an admission
	// wait timeout. Surfaced immediately; the client may retry.
	ErrAdmissionRejected = errors.New("admission rejected")

	// ErrEmbeddingFailure is non-transient: a failing embedding backend is
	// treated as a configuration error, never retried.
	ErrEmbeddingFailure = errors.New("embedding failed")

	// ErrPromptTooLarge means the question alone exceeds the token budget.
	ErrPromptTooLarge = errors.New("prompt exceeds token budget")

	// ErrInferenceTimeout is a generation call exceeding its deadline.
	ErrInferenceTimeout = errors.New("inference timed out")

	// ErrInferenceTransport is a transient transport failure reaching the
	// generation backend.
	ErrInferenceTransport = errors.New("inference backend unreachable")

	// ErrIndexUnavailable means the vector index cannot be searched. It is
	// distinct from an empty result: "can't search" is never downgraded to
	// no-context generation.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInternal         = errors.New("internal error")
)

// AppError pairs a sentinel with a human-readable message and an explicit
// HTTP status code.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status the chat endpoint returns.
// Overload is distinct (429) from backend failures (502/503/504) so clients
// can tell "back off" apart from "backend broken".
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrAdmissionRejected):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrPromptTooLarge), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInferenceTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrInferenceTransport):
		return http.StatusBadGateway
	case errors.Is(err, ErrIndexUnavailable), errors.Is(err, ErrEmbeddingFailure):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
