// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrAlreadyStarted is returned when Start is called on a running manager.
	ErrAlreadyStarted = errors.New("daemon manager already started")

	// ErrManagerNotStarted is returned when Shutdown is called before Start.
	ErrManagerNotStarted = errors.New("daemon manager not started")

	// ErrMissingLogger reports a missing logger. NewManager does not return
	// it: Deps validation accepts a zero-value Logger.
	ErrMissingLogger = errors.New("logger is required")
)
