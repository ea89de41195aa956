// Package storage provides the SQLite-backed ledger.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/milo/internal/model"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrNilParameter    = errors.New("parameter cannot be nil")
	ErrInvalidReceipt  = errors.New("invalid receipt")
	ErrInvalidPosition = errors.New("position must be positive")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateMarker(m model.Marker, paramName string) error {
	if err := validateString(string(m), paramName); err != nil {
		return err
	}
	if _, err := m.Seq(); err != nil {
		return fmt.Errorf("%s: %w", paramName, err)
	}
	return nil
}

// validateReceipt checks the fields every stored receipt needs.
func validateReceipt(r *model.Receipt) error {
	if r == nil {
		return fmt.Errorf("%w: receipt", ErrNilParameter)
	}
	if r.CheckpointID <= 0 {
		return fmt.Errorf("%w: missing checkpoint", ErrInvalidReceipt)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidReceipt)
	}
	if strings.TrimSpace(r.ChannelID) == "" {
		return fmt.Errorf("%w: missing channel", ErrInvalidReceipt)
	}
	if r.MessageID.IsZero() {
		return fmt.Errorf("%w: missing message id", ErrInvalidReceipt)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidReceipt, r.Amount)
	}
	return nil
}
