// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound = errors.New("not found")

	// Checkpoint lifecycle rejections.
	ErrAlreadyActive      = errors.New("a checkpoint is already active")
	ErrNoActiveCheckpoint = errors.New("no active checkpoint")
	ErrNothingToUndo      = errors.New("nothing to undo")
	ErrHasReceipts        = errors.New("checkpoint has receipts")
	ErrPositionNotFound   = errors.New("no receipt at that position")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// CheckpointError attaches the checkpoint a rejection refers to.
type CheckpointError struct {
	Err          error
	CheckpointID int64
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint #%d: %v", e.CheckpointID, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// NewCheckpointError wraps err with the checkpoint id it concerns.
func NewCheckpointError(err error, checkpointID int64) error {
	return &CheckpointError{Err: err, CheckpointID: checkpointID}
}

// CheckpointIDFrom returns the checkpoint id carried by err, if any.
func CheckpointIDFrom(err error) (int64, bool) {
	var cpErr *CheckpointError
	if errors.As(err, &cpErr) {
		return cpErr.CheckpointID, true
	}
	return 0, false
}

// IsRejection reports whether err is an expected domain outcome rather than
// an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrAlreadyActive) ||
		errors.Is(err, ErrNoActiveCheckpoint) ||
		errors.Is(err, ErrNothingToUndo) ||
		errors.Is(err, ErrHasReceipts) ||
		errors.Is(err, ErrPositionNotFound)
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimit) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
