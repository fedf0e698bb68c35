// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !linux

package sysproxy

import (
	"context"
	"errors"
)

// ErrUnsupportedPlatform is returned by the stub Setter on platforms this
// module does not yet drive natively.
var ErrUnsupportedPlatform = errors.New("sysproxy: no platform setter for this OS")

type stubSetter struct{}

// NewPlatformSetter returns a stub Setter on platforms without a native
// implementation (darwin/windows system-proxy wiring is an open extension
// point, see DESIGN.md).
func NewPlatformSetter() Setter { return stubSetter{} }

func (stubSetter) Apply(context.Context, Intent) error      { return ErrUnsupportedPlatform }
func (stubSetter) Capture(context.Context) (Intent, error)  { return Intent{}, ErrUnsupportedPlatform }
func (stubSetter) SupportsAutoProxy() bool                  { return false }
