// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package profile

import "errors"

// Sentinel errors matching the taxonomy in spec §7 (Validation, Not-found,
// Conflict).
var (
	ErrValidation = errors.New("validation")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrDuplicate  = errors.New("duplicate id")
)
