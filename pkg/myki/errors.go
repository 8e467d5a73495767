package myki

import (
	"fmt"

	"github.com/pkg/errors"
)

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("myki %s: connection error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServiceError covers non-200 responses and envelopes with isok=false.
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 && e.StatusCode != 200 {
		return fmt.Sprintf("myki %s: failed=%d body=%s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("myki %s: service error: %s", e.Op, e.Message)
}

// DataError means the body could not be decoded or lacked required fields.
type DataError struct {
	Op     string
	Reason string
	Err    error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("myki %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("myki %s: %s", e.Op, e.Reason)
}

func (e *DataError) Unwrap() error { return e.Err }

// IsTransport reports whether err wraps a *TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsService reports whether err wraps a *ServiceError.
func IsService(err error) bool {
	var target *ServiceError
	return errors.As(err, &target)
}

// IsData reports whether err wraps a *DataError.
func IsData(err error) bool {
	var target *DataError
	return errors.As(err, &target)
}
