// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"sync"
	"time"
)

// eventIDGenerator produces monotonically increasing, snowflake-style run
// ids: a millisecond timestamp in the high bits and a per-millisecond
// counter in the low 22 bits. No ID library in the dependency pack offers
// this shape (they're all UUID-family, unordered), so this is hand-rolled
// rather than pulled from a third party.
type eventIDGenerator struct {
	mu        sync.Mutex
	lastMilli int64
	counter   int64
}

const counterBits = 22

func newEventIDGenerator() *eventIDGenerator {
	return &eventIDGenerator{}
}

func (g *eventIDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now == g.lastMilli {
		g.counter++
	} else {
		g.lastMilli = now
		g.counter = 0
	}
	return now<<counterBits | (g.counter & (1<<counterBits - 1))
}
