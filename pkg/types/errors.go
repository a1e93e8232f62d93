package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDoiFormat is returned when the DOI suffix is not exactly 9 digits.
	ErrInvalidDoiFormat = errors.New("doi must be 9 digits")

	// ErrBackend matches any non-success response from the processing service.
	ErrBackend = errors.New("backend error")

	// ErrTransport indicates the request failed before a status was obtained.
	ErrTransport = errors.New("transport error")

	ErrSubmissionInFlight = errors.New("submission already in progress")
	ErrHandleNotFound     = errors.New("download handle not found")
	ErrHandleExpired      = errors.New("download handle expired")
	ErrSubmissionNotFound = errors.New("submission not found")
)

// BackendError carries the status code of a non-success processing response.
// The response body is never parsed.
type BackendError struct {
	StatusCode int
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error: status %d", e.StatusCode)
}

func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}

type FailureCategory string

const (
	FailureInvalidDoiFormat FailureCategory = "InvalidDoiFormat"
	FailureBackend          FailureCategory = "BackendError"
	FailureTransport        FailureCategory = "TransportError"
)

// FailureCategoryOf maps err onto the three user facing failure categories.
// Errors outside the taxonomy return an empty category.
func FailureCategoryOf(err error) FailureCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidDoiFormat):
		return FailureInvalidDoiFormat
	case errors.Is(err, ErrBackend):
		return FailureBackend
	case errors.Is(err, ErrTransport):
		return FailureTransport
	}
	return ""
}

// Message is the notification shown to the user for the category.
func (c FailureCategory) Message() string {
	switch c {
	case FailureInvalidDoiFormat:
		return "DOI must be 9 digits"
	case FailureBackend:
		return "Error processing document"
	case FailureTransport:
		return "Error processing document: the processing service could not be reached"
	}
	return "Something went wrong. Please try again."
}

// StatusCodeOf returns the backend status code carried by err, or 0.
func StatusCodeOf(err error) int {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.StatusCode
	}
	return 0
}
