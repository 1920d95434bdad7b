/*
Package core provides the central logic for bitsquat, including the scheduler,
the audit pipeline, and input normalization. It defines common data structures
and constants used across these components.
*/
package core

/*
bitsquat — bit-flip domain name auditing tool in Go
Copyright (C) 2025  Pepijn van der Stap <bitsquat@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import "errors"

// customError is an error type that includes a retryable flag.
// This allows components to determine if an operation that resulted in this error
// should be retried.
// It implements the standard `error` interface.
type customError struct {
	message   string // The error message.
	retryable bool   // True if the error indicates a condition that might be resolved by retrying.
}

// NewError creates a new customError with the given message and retryable status.
//
// Parameters:
//
//	msg: The textual description of the error.
//	retryable: A boolean indicating if the error condition is potentially transient
//	           and the operation could succeed on a subsequent attempt.
//
// Returns:
//
//	An error of type *customError.
func NewError(msg string, retryable bool) error {
	return &customError{
		message:   msg,
		retryable: retryable,
	}
}

// Error implements the standard Go `error` interface.
// It returns the textual message associated with the customError.
func (e *customError) Error() string {
	return e.message
}

// IsRetryable returns true if the error is designated as retryable, false otherwise.
func (e *customError) IsRetryable() bool {
	return e.retryable
}

// IsRetryable is a helper function to check if a given error is, or wraps, a
// *customError whose retryable flag is set. Submission errors travel through
// fmt.Errorf("%w") wrapping, so the check unwraps via errors.As.
// If the error is nil, it returns false.
// If no *customError is found in the chain, it defaults to false (non-retryable).
//
// Parameters:
//
//	err: The error to check.
//
// Returns:
//
//	True if the error chain contains a retryable *customError, false otherwise.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var e *customError
	if errors.As(err, &e) {
		return e.IsRetryable()
	}

	// If no *customError is present, assume not retryable for unknown error types.
	return false
}

// Common error constants used within the core package.
// These provide standardized error values for frequent conditions like full queues
// or worker shutdowns, facilitating consistent error handling and checking.
var (
	// ErrQueueFull indicates that a worker's queue is at capacity and cannot accept new work items.
	// This error is typically considered retryable, as the queue might free up later.
	ErrQueueFull = NewError("queue full", true)
	// ErrWorkerShutdown indicates that a worker or the scheduler is in the process of shutting down
	// and can no longer process new work items. This is generally not a retryable error
	// in the context of the current operation, as the component is terminating.
	ErrWorkerShutdown = NewError("worker shutdown", false)
)
