package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both absent records and records owned by someone else.
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInvalidCursor       = errors.New("invalid resume cursor")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// ValidationError rejects a request before any state is created.
type ValidationError struct {
	Code    string
	Message string
	// TooLarge marks size-limit violations, reported as 413 instead of 400.
	TooLarge bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// AdmissionRejectedError reports that the submitter already has limit or more active jobs.
type AdmissionRejectedError struct {
	Limit  int
	Active int64
}

func (e *AdmissionRejectedError) Error() string {
	return fmt.Sprintf("active job limit reached (%d/%d)", e.Active, e.Limit)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a stage error as unrecoverable so it is not retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
