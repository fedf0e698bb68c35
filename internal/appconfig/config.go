// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package appconfig loads and defaults the application's own YAML
// configuration file, distinct from the Profile Store and the pipeline's
// "run" file (spec §6's field table).
package appconfig

// CoreKind selects which core binary the supervisor manages.
type CoreKind string

const (
	CoreMihomo       CoreKind = "mihomo"
	CoreMihomoAlpha  CoreKind = "mihomo-alpha"
	CoreClashRS      CoreKind = "clash-rs"
)

// BreakBehavior controls whether the core drops connections on proxy switch.
type BreakBehavior string

const (
	BreakNone  BreakBehavior = "none"
	BreakChain BreakBehavior = "chain"
	BreakAll   BreakBehavior = "all"
)

// TraySelector controls the tray UI layout.
type TraySelector string

const (
	TrayHidden   TraySelector = "hidden"
	TrayNormal   TraySelector = "normal"
	TraySubmenu  TraySelector = "submenu"
)

// FileConfig is the on-disk shape of the app's own configuration file
// (spec §6: "<product>.yaml"). Every field is a pointer so mergeDefaults
// can distinguish "unset" from "explicitly false/zero".
type FileConfig struct {
	EnableTunMode        *bool          `yaml:"enable_tun_mode,omitempty"`
	EnableServiceMode     *bool          `yaml:"enable_service_mode,omitempty"`
	EnableSystemProxy     *bool          `yaml:"enable_system_proxy,omitempty"`
	EnableProxyGuard      *bool          `yaml:"enable_proxy_guard,omitempty"`
	ProxyGuardInterval    *uint64        `yaml:"proxy_guard_interval,omitempty"`
	SystemProxyBypass     *string        `yaml:"system_proxy_bypass,omitempty"`
	PACURL                *string        `yaml:"pac_url,omitempty"`
	VergeMixedPort        *uint16        `yaml:"verge_mixed_port,omitempty"`
	ClashCore             *CoreKind      `yaml:"clash_core,omitempty"`
	BreakWhenProxyChange  *BreakBehavior `yaml:"break_when_proxy_change,omitempty"`
	ClashTraySelector     *TraySelector  `yaml:"clash_tray_selector,omitempty"`
	MaxLogFiles           *uint         `yaml:"max_log_files,omitempty"`
}

func boolPtr(v bool) *bool                     { return &v }
func uint64Ptr(v uint64) *uint64               { return &v }
func uintPtr(v uint) *uint                     { return &v }
func uint16Ptr(v uint16) *uint16               { return &v }
func stringPtr(v string) *string               { return &v }
func coreKindPtr(v CoreKind) *CoreKind         { return &v }
func breakPtr(v BreakBehavior) *BreakBehavior  { return &v }
func trayPtr(v TraySelector) *TraySelector     { return &v }

const minProxyGuardInterval = 1

// mergeDefaults fills every unset field with its documented default,
// field-by-field in the teacher's nil-check style, and clamps
// ProxyGuardInterval to its floor (spec §6: "floor 1").
func mergeDefaults(dst *FileConfig) {
	if dst.EnableTunMode == nil {
		dst.EnableTunMode = boolPtr(false)
	}
	if dst.EnableServiceMode == nil {
		dst.EnableServiceMode = boolPtr(false)
	}
	if dst.EnableSystemProxy == nil {
		dst.EnableSystemProxy = boolPtr(false)
	}
	if dst.EnableProxyGuard == nil {
		dst.EnableProxyGuard = boolPtr(false)
	}
	if dst.ProxyGuardInterval == nil {
		dst.ProxyGuardInterval = uint64Ptr(10)
	} else if *dst.ProxyGuardInterval < minProxyGuardInterval {
		dst.ProxyGuardInterval = uint64Ptr(minProxyGuardInterval)
	}
	if dst.SystemProxyBypass == nil {
		dst.SystemProxyBypass = stringPtr("")
	}
	if dst.PACURL == nil {
		dst.PACURL = stringPtr("")
	}
	if dst.VergeMixedPort == nil {
		dst.VergeMixedPort = uint16Ptr(7890)
	}
	if dst.ClashCore == nil {
		dst.ClashCore = coreKindPtr(CoreMihomo)
	}
	if dst.BreakWhenProxyChange == nil {
		dst.BreakWhenProxyChange = breakPtr(BreakNone)
	}
	if dst.ClashTraySelector == nil {
		dst.ClashTraySelector = trayPtr(TrayNormal)
	}
	if dst.MaxLogFiles == nil {
		dst.MaxLogFiles = uintPtr(7)
	}
}
