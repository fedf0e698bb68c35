// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package profile

import "fmt"

// Draft guards multi-field edits to the store's auxiliary fields
// (current/chain/valid-keys) with the immutable-snapshot-plus-builder
// pattern from spec §5 and Design Notes §9: a caller builds a draft,
// mutates it, then either Apply (swap) or Discard (drop).
type Draft struct {
	store *Store

	current   []string
	chain     []string
	validKeys map[string]struct{}
}

// NewDraft captures the store's current auxiliary state into a mutable
// builder.
func (s *Store) NewDraft() *Draft {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := &Draft{
		store:     s,
		current:   append([]string{}, s.current...),
		chain:     append([]string{}, s.chain...),
		validKeys: make(map[string]struct{}, len(s.validKeys)),
	}
	for k := range s.validKeys {
		d.validKeys[k] = struct{}{}
	}
	return d
}

// SetCurrent replaces the draft's base-chain id list.
func (d *Draft) SetCurrent(ids []string) { d.current = append([]string{}, ids...) }

// SetChain replaces the draft's global overlay chain id list.
func (d *Draft) SetChain(ids []string) { d.chain = append([]string{}, ids...) }

// SetValidKeys replaces the draft's whitelist filter key set.
func (d *Draft) SetValidKeys(keys []string) {
	d.validKeys = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		d.validKeys[k] = struct{}{}
	}
}

// Apply validates that every referenced id exists and is chainable where
// required, then atomically swaps the draft into the store and persists it.
func (d *Draft) Apply() error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	index := make(map[string]Profile, len(d.store.profiles))
	for _, p := range d.store.profiles {
		index[p.ID] = p
	}
	for _, id := range d.current {
		if _, ok := index[id]; !ok {
			return fmt.Errorf("%w: current references missing profile %s", ErrValidation, id)
		}
	}
	for _, id := range d.chain {
		p, ok := index[id]
		if !ok {
			return fmt.Errorf("%w: chain references missing profile %s", ErrValidation, id)
		}
		if !p.Type.IsChainable() {
			return fmt.Errorf("%w: chain member %s is not a Merge or Script profile", ErrValidation, id)
		}
	}

	d.store.current = d.current
	d.store.chain = d.chain
	d.store.validKeys = d.validKeys

	return d.store.persist()
}

// Discard drops the draft without mutating the store. Provided for callers
// that build a draft speculatively and decide not to commit it; since a
// Draft never touches store state until Apply, Discard is a no-op kept for
// symmetry with the draft/commit pattern described in spec Design Notes §9.
func (d *Draft) Discard() {}
