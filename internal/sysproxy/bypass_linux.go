// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package sysproxy

// DefaultBypass is the platform's fixed bypass list (spec §4.F: "Platform
// bypass defaults are fixed strings, one per OS").
const DefaultBypass = "localhost,127.0.0.1,192.168.0.0/16,10.0.0.0/8,172.16.0.0/12,::1"
