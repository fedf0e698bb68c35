// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package profile

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/veilmesh/veilcore/internal/core/pathutil"
)

// document is the on-disk shape of profiles.yaml (spec §4.A: "the sequence
// plus current/chain/valid-keys is serialized as one ordered mapping").
type document struct {
	Profiles  []Profile `yaml:"profiles"`
	Current   []string  `yaml:"current,omitempty"`
	Chain     []string  `yaml:"chain,omitempty"`
	ValidKeys []string  `yaml:"valid_keys,omitempty"`
}

// Store is the ordered collection of profiles plus the current/chain/
// valid-keys auxiliary fields (spec §3 ProfileStore, §4.A).
type Store struct {
	mu sync.RWMutex

	storePath  string // profiles.yaml
	profileDir string // profiles/

	profiles  []Profile
	current   []string
	chain     []string
	validKeys map[string]struct{}
}

// Open loads a Store from storePath, creating an empty one if the file does
// not yet exist. profileDir is the directory profile content files live
// under (spec §6 on-disk layout: "profiles/<uid>.yaml|.js|.lua").
func Open(storePath, profileDir string) (*Store, error) {
	s := &Store{
		storePath:  storePath,
		profileDir: profileDir,
		validKeys:  make(map[string]struct{}),
	}
	if err := s.load(); err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("profile: open store: %w", err)
	}
	return s, nil
}

func (s *Store) load() error {
	// File reads are charset-tolerant (UTF-8 with or without BOM), spec §4.A.
	raw, err := os.ReadFile(s.storePath)
	if err != nil {
		return err
	}
	raw = stripBOM(raw)

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse profiles store: %w", err)
	}

	s.profiles = doc.Profiles
	s.current = doc.Current
	s.chain = doc.Chain
	s.validKeys = make(map[string]struct{}, len(doc.ValidKeys))
	for _, k := range doc.ValidKeys {
		s.validKeys[k] = struct{}{}
	}
	return nil
}

func stripBOM(b []byte) []byte {
	const bom = "\xef\xbb\xbf"
	if len(b) >= 3 && string(b[:3]) == bom {
		return b[3:]
	}
	return b
}

// persist writes the whole store as one atomic whole-file replace (spec
// §4.A: "Writes are whole-file replace (no partial writes)"), grounded on
// the teacher's renameio-based atomic write pattern.
func (s *Store) persist() error {
	doc := document{
		Profiles: s.profiles,
		Current:  s.current,
		Chain:    s.chain,
	}
	for k := range s.validKeys {
		doc.ValidKeys = append(doc.ValidKeys, k)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal profiles store: %w", err)
	}

	pf, err := renameio.NewPendingFile(s.storePath)
	if err != nil {
		return fmt.Errorf("create pending profiles store file: %w", err)
	}
	defer pf.Cleanup() //nolint:errcheck

	if _, err := pf.Write(out); err != nil {
		return fmt.Errorf("write profiles store: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace profiles store: %w", err)
	}
	return nil
}

// Append adds a profile at the tail; rejects a duplicate id.
func (s *Store) Append(p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.profiles {
		if existing.ID == p.ID {
			return fmt.Errorf("%w: %s", ErrDuplicate, p.ID)
		}
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	s.profiles = append(s.profiles, p)
	return s.persist()
}

// Get returns a copy of the profile with the given id, or ErrNotFound.
func (s *Store) Get(id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Patch mutates the profile by applying every non-nil field in partial. It
// fails Conflict if the profile's variant tag differs from the stored one.
type Patch struct {
	Name          *string
	Desc          *string
	Files         []string
	Chain         []string
	URL           *string
	Options       *RemoteOptions
	Subscription  *SubscriptionInfo
	LastFetchedAt *time.Time
}

func (s *Store) Patch(id string, partial Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.indexOf(id)
	if err != nil {
		return err
	}
	p := &s.profiles[idx]

	if partial.Name != nil {
		p.Name = *partial.Name
	}
	if partial.Desc != nil {
		p.Desc = *partial.Desc
	}
	if partial.Files != nil {
		p.Files = partial.Files
	}
	if partial.Chain != nil {
		p.Chain = partial.Chain
	}
	if partial.URL != nil {
		if p.Type != VariantRemote {
			return fmt.Errorf("%w: url patch on non-remote profile %s", ErrConflict, id)
		}
		p.URL = *partial.URL
	}
	if partial.Options != nil {
		if p.Type != VariantRemote {
			return fmt.Errorf("%w: options patch on non-remote profile %s", ErrConflict, id)
		}
		p.Options = partial.Options
	}
	if partial.Subscription != nil {
		if p.Type != VariantRemote {
			return fmt.Errorf("%w: subscription patch on non-remote profile %s", ErrConflict, id)
		}
		p.Subscription = partial.Subscription
	}
	if partial.LastFetchedAt != nil {
		p.LastFetchedAt = *partial.LastFetchedAt
	}
	p.UpdatedAt = time.Now()

	return s.persist()
}

func (s *Store) indexOf(id string) (int, error) {
	for i, p := range s.profiles {
		if p.ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Reorder moves `active` to the position currently held by `over`.
func (s *Store) Reorder(active, over string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ai, err := s.indexOf(active)
	if err != nil {
		return err
	}
	oi, err := s.indexOf(over)
	if err != nil {
		return err
	}
	if ai == oi {
		return s.persist()
	}

	moved := s.profiles[ai]
	without := append(append([]Profile{}, s.profiles[:ai]...), s.profiles[ai+1:]...)

	target := oi
	reordered := make([]Profile, 0, len(without)+1)
	reordered = append(reordered, without[:target]...)
	reordered = append(reordered, moved)
	reordered = append(reordered, without[target:]...)
	s.profiles = reordered

	return s.persist()
}

// ReorderByList performs a total reorder: every current id must appear
// exactly once in ids.
func (s *Store) ReorderByList(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) != len(s.profiles) {
		return fmt.Errorf("%w: reorder list has %d ids, store has %d", ErrValidation, len(ids), len(s.profiles))
	}
	byID := make(map[string]Profile, len(s.profiles))
	for _, p := range s.profiles {
		byID[p.ID] = p
	}
	seen := make(map[string]struct{}, len(ids))
	reordered := make([]Profile, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: id %s appears more than once in reorder list", ErrValidation, id)
		}
		seen[id] = struct{}{}
		p, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		reordered = append(reordered, p)
	}
	s.profiles = reordered
	return s.persist()
}

// Delete removes a profile from the sequence and erases its files. It
// returns whether the deleted id was referenced by current or chain, so the
// caller can decide whether to re-run the pipeline.
func (s *Store) Delete(id string) (referenced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.indexOf(id)
	if err != nil {
		return false, err
	}
	p := s.profiles[idx]

	referenced = containsString(s.current, id) || containsString(s.chain, id)

	for _, f := range p.Files {
		path, pathErr := pathutil.SecureJoin(s.profileDir, f)
		if pathErr != nil {
			continue
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return referenced, fmt.Errorf("delete profile file %s: %w", f, rmErr)
		}
	}

	s.profiles = append(s.profiles[:idx], s.profiles[idx+1:]...)
	s.current = removeString(s.current, id)
	s.chain = removeString(s.chain, id)

	return referenced, s.persist()
}

// Current returns a copy of the base id list.
func (s *Store) Current() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.current))
	copy(out, s.current)
	return out
}

// Chain returns a copy of the global overlay chain id list.
func (s *Store) Chain() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.chain))
	copy(out, s.chain)
	return out
}

// ValidKeys returns the whitelist-filter key set used by the pipeline's
// final stage.
func (s *Store) ValidKeys() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.validKeys))
	for k := range s.validKeys {
		out[k] = struct{}{}
	}
	return out
}

// Snapshot returns a copy of every profile currently in the store, in
// order.
func (s *Store) Snapshot() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Profile, len(s.profiles))
	copy(out, s.profiles)
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
