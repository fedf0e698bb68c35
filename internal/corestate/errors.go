// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package corestate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is returned when a Builder rejects a candidate state before
// any subscriber is touched.
var ErrValidation = errors.New("validation")

// MigrateError reports a single subscriber's failed migrate when every
// rollback succeeded.
type MigrateError struct {
	Name string
	Err  error
}

func (e *MigrateError) Error() string {
	return fmt.Sprintf("migrate failed for subscriber %q: %v", e.Name, e.Err)
}

func (e *MigrateError) Unwrap() error { return e.Err }

// MigrateAndRollbackError reports that the failing subscriber's own
// rollback also failed.
type MigrateAndRollbackError struct {
	Migrate  *MigrateError
	Rollback error
}

func (e *MigrateAndRollbackError) Error() string {
	return fmt.Sprintf("%v; rollback also failed: %v", e.Migrate, e.Rollback)
}

func (e *MigrateAndRollbackError) Unwrap() []error { return []error{e.Migrate, e.Rollback} }

// BatchError reports multiple rollback errors accumulated across
// subscribers.
type BatchError struct {
	Errors []error
}

func (e *BatchError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return "batch: " + strings.Join(parts, "; ")
}

func (e *BatchError) Unwrap() []error { return e.Errors }
