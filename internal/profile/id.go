// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package profile

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

// variantPrefix is the one-letter discriminator prepended to every
// generated id (spec §3: "format: one-letter variant prefix + 11-char
// URL-safe random").
func variantPrefix(v Variant) byte {
	switch v {
	case VariantRemote:
		return 'R'
	case VariantLocal:
		return 'L'
	case VariantMerge:
		return 'M'
	case VariantScript:
		return 'S'
	default:
		return 'X'
	}
}

// NewID generates a stable, unique profile identifier for the given variant.
func NewID(v Variant) string {
	var buf [9]byte
	// crypto/rand.Read never returns an error on any platform this module
	// targets; a read error would be an unrecoverable host fault.
	if _, err := rand.Read(buf[:]); err != nil {
		panic("profile: failed to read random id bytes: " + err.Error())
	}
	enc := base64.RawURLEncoding.EncodeToString(buf[:])
	enc = strings.ReplaceAll(enc, "-", "a")
	enc = strings.ReplaceAll(enc, "_", "b")
	if len(enc) > 11 {
		enc = enc[:11]
	}
	for len(enc) < 11 {
		enc += "0"
	}
	return string(variantPrefix(v)) + enc
}
