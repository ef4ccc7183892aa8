// Package apperr holds the error types shared by the reconciliation engine.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSelection is returned by a publish attempt without selected rows.
	ErrNoSelection = errors.New("please select the entries which you want to publish")

	// ErrPublishLocked is returned while a previous publish batch is draining
	// or when nothing is eligible for publishing.
	ErrPublishLocked = errors.New("publishing is currently disabled")

	// ErrInvalidInput is matched by FormatError and FieldError.
	ErrInvalidInput = errors.New("invalid input")
)

// FormatError reports malformed duration or date text.
type FormatError struct {
	Input  string
	Expect string
}

func (e *FormatError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("empty value, expected %s", e.Expect)
	}
	return fmt.Sprintf("invalid value %q, expected %s", e.Input, e.Expect)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrInvalidInput
}

// FieldError reports an invalid filter or row field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

func (e *FieldError) Is(target error) bool {
	return target == ErrInvalidInput
}

// UnresolvedWorkItemError marks an entry whose work item is unknown.
// ID is zero when no id could be parsed at all.
type UnresolvedWorkItemError struct {
	ID int64
}

func (e *UnresolvedWorkItemError) Error() string {
	if e.ID == 0 {
		return "work item could not be determined"
	}
	return fmt.Sprintf("work item #%d not found or inaccessible", e.ID)
}

// RemoteWriteError is a failed write to the target system. Messages holds
// the server supplied validation messages, if any could be decoded.
type RemoteWriteError struct {
	StatusCode int
	Messages   []string
	Err        error
}

func (e *RemoteWriteError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("write rejected (status %d): %s", e.StatusCode, strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		return fmt.Sprintf("write failed: %v", e.Err)
	}
	return fmt.Sprintf("write failed with status %d", e.StatusCode)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// APIError is a failed read from one of the remote services.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Service, e.StatusCode, e.Body)
}
