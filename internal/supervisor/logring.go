// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import "sync"

// defaultRingCapacity bounds the in-memory tail of core stdout/stderr kept
// for the diagnostics surface (spec §4.D: "forwarding the last N lines").
const defaultRingCapacity = 200

// logRing is a bounded ring buffer of drained core output lines, modeled on
// the ambient log package's capped in-memory buffer.
type logRing struct {
	mu       sync.Mutex
	capacity int
	lines    []string
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &logRing{capacity: capacity}
}

func (r *logRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.capacity {
		r.lines = r.lines[len(r.lines)-r.capacity:]
	}
}

// Recent returns a copy of the currently buffered lines, oldest first.
func (r *logRing) Recent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}
