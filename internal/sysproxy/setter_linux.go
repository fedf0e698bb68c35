// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package sysproxy

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// GSettingsSetter drives the GNOME "org.gnome.system.proxy" schema via the
// gsettings CLI, the same mechanism GNOME Control Center itself uses to
// configure desktop-wide HTTP/HTTPS/PAC proxy settings.
type GSettingsSetter struct{}

// NewPlatformSetter returns the Linux production Setter.
func NewPlatformSetter() Setter { return GSettingsSetter{} }

func (GSettingsSetter) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "gsettings", args...)
	return cmd.Run()
}

func (s GSettingsSetter) Apply(ctx context.Context, intent Intent) error {
	if intent.PACURL != "" {
		if err := s.run(ctx, "set", "org.gnome.system.proxy", "mode", "auto"); err != nil {
			return err
		}
		return s.run(ctx, "set", "org.gnome.system.proxy", "autoconfig-url", intent.PACURL)
	}

	if !intent.Enabled {
		return s.run(ctx, "set", "org.gnome.system.proxy", "mode", "none")
	}

	port := strconv.Itoa(intent.Port)
	for _, scheme := range []string{"http", "https"} {
		schema := "org.gnome.system.proxy." + scheme
		if err := s.run(ctx, "set", schema, "host", intent.Host); err != nil {
			return err
		}
		if err := s.run(ctx, "set", schema, "port", port); err != nil {
			return err
		}
	}

	var bypassHosts []string
	if strings.TrimSpace(intent.Bypass) != "" {
		bypassHosts = strings.Split(intent.Bypass, ",")
	}
	bypass := "[" + quoteList(bypassHosts) + "]"
	if err := s.run(ctx, "set", "org.gnome.system.proxy", "ignore-hosts", bypass); err != nil {
		return err
	}
	return s.run(ctx, "set", "org.gnome.system.proxy", "mode", "manual")
}

func (s GSettingsSetter) Capture(ctx context.Context) (Intent, error) {
	cmd := exec.CommandContext(ctx, "gsettings", "get", "org.gnome.system.proxy", "mode")
	out, err := cmd.Output()
	if err != nil {
		return Intent{}, err
	}
	mode := strings.Trim(strings.TrimSpace(string(out)), "'")

	intent := Intent{Enabled: mode == "manual"}
	if mode == "auto" {
		if out, err := exec.CommandContext(ctx, "gsettings", "get", "org.gnome.system.proxy", "autoconfig-url").Output(); err == nil {
			intent.PACURL = strings.Trim(strings.TrimSpace(string(out)), "'")
		}
	}
	if intent.Enabled {
		if out, err := exec.CommandContext(ctx, "gsettings", "get", "org.gnome.system.proxy.http", "host").Output(); err == nil {
			intent.Host = strings.Trim(strings.TrimSpace(string(out)), "'")
		}
		if out, err := exec.CommandContext(ctx, "gsettings", "get", "org.gnome.system.proxy.http", "port").Output(); err == nil {
			if p, err := strconv.Atoi(strings.TrimSpace(string(out))); err == nil {
				intent.Port = p
			}
		}
	}
	return intent, nil
}

func (GSettingsSetter) SupportsAutoProxy() bool { return true }

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "'" + item + "'"
	}
	return strings.Join(quoted, ", ")
}
