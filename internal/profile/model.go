// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package profile defines the polymorphic profile entity and its ordered
// store.
package profile

import (
	"fmt"
	"time"
)

// Variant discriminates the four profile kinds. Persisted as the "type" tag.
type Variant string

const (
	VariantRemote Variant = "remote"
	VariantLocal  Variant = "local"
	VariantMerge  Variant = "merge"
	VariantScript Variant = "script"
)

// ScriptDialect selects the runtime a Script profile executes under.
type ScriptDialect string

const (
	// DialectA is the dynamic, ECMAScript-like runtime (goja).
	DialectA ScriptDialect = "javascript"
	// DialectB is the embeddable functional runtime (gopher-lua).
	DialectB ScriptDialect = "lua"
)

// Header is shared by every profile variant.
type Header struct {
	ID        string    `yaml:"uid"`
	Name      string    `yaml:"name"`
	Desc      string    `yaml:"desc,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
	// Files are the on-disk file names under the profiles directory that
	// back this profile's content.
	Files []string `yaml:"files"`
	// Chain references further Merge/Script profile ids layered on this one.
	Chain []string `yaml:"chain,omitempty"`
}

// SubscriptionInfo is the upload/download/total/expire quota reported by a
// remote subscription's response headers.
type SubscriptionInfo struct {
	Upload   int64 `yaml:"upload"`
	Download int64 `yaml:"download"`
	Total    int64 `yaml:"total"`
	Expire   int64 `yaml:"expire"`
}

// RemoteOptions are the Remote-variant fetch options.
type RemoteOptions struct {
	UserAgent             string `yaml:"user_agent,omitempty"`
	UseSystemProxy        bool   `yaml:"use_system_proxy,omitempty"`
	UseOwnProxy           bool   `yaml:"use_own_proxy,omitempty"`
	UpdateIntervalMinutes int    `yaml:"update_interval_minutes,omitempty"`
}

// Profile is the on-disk representation of one profile entry. Not every
// field applies to every Variant; Validate enforces which fields a given
// Variant requires.
type Profile struct {
	Header `yaml:",inline"`

	Type Variant `yaml:"type"`

	// Remote-only.
	URL           string            `yaml:"url,omitempty"`
	Subscription  *SubscriptionInfo `yaml:"subscription,omitempty"`
	Options       *RemoteOptions    `yaml:"options,omitempty"`
	LastFetchedAt time.Time         `yaml:"last_fetched_at,omitempty"`

	// Script-only.
	Dialect ScriptDialect `yaml:"dialect,omitempty"`
}

// minUpdateInterval is the policy floor from spec §3: update interval, if
// present, is >= 60s.
const minUpdateInterval = 60 * time.Second

// Validate checks the invariants from spec §3 that are local to a single
// profile (store-level invariants like id uniqueness live in Store).
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: profile id is empty", ErrValidation)
	}
	if len(p.Files) == 0 {
		return fmt.Errorf("%w: profile %s has no files", ErrValidation, p.ID)
	}
	switch p.Type {
	case VariantRemote:
		if p.URL == "" {
			return fmt.Errorf("%w: remote profile %s missing url", ErrValidation, p.ID)
		}
		if p.Options != nil && p.Options.UpdateIntervalMinutes > 0 {
			interval := time.Duration(p.Options.UpdateIntervalMinutes) * time.Minute
			if interval < minUpdateInterval {
				return fmt.Errorf("%w: update interval %s below floor %s", ErrValidation, interval, minUpdateInterval)
			}
		}
	case VariantLocal, VariantMerge:
		// Header only; nothing further to validate.
	case VariantScript:
		if p.Dialect != DialectA && p.Dialect != DialectB {
			return fmt.Errorf("%w: script profile %s has unknown dialect %q", ErrValidation, p.ID, p.Dialect)
		}
	default:
		return fmt.Errorf("%w: unknown profile variant %q", ErrValidation, p.Type)
	}
	return nil
}

// IsChainable reports whether the variant may appear in a Chain list (spec
// §3: "Chain members must exist in the store and must be Merge or Script
// variants").
func (v Variant) IsChainable() bool {
	return v == VariantMerge || v == VariantScript
}
