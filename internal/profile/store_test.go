// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "profiles.yaml"), filepath.Join(dir, "profiles"))
	require.NoError(t, err)
	return s
}

func TestStore_AppendGetDelete(t *testing.T) {
	s := newTestStore(t)

	p := Profile{
		Header: Header{ID: NewID(VariantLocal), Name: "local-one", Files: []string{"a.yaml"}},
		Type:   VariantLocal,
	}
	require.NoError(t, s.Append(p))

	got, err := s.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)

	require.ErrorIs(t, s.Append(p), ErrDuplicate)

	referenced, err := s.Delete(p.ID)
	require.NoError(t, err)
	assert.False(t, referenced)

	_, err = s.Get(p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReorderByList_NoOpIffSameOrder(t *testing.T) {
	s := newTestStore(t)
	ids := []string{}
	for i := 0; i < 3; i++ {
		p := Profile{Header: Header{ID: NewID(VariantLocal), Name: "p", Files: []string{"a.yaml"}}, Type: VariantLocal}
		require.NoError(t, s.Append(p))
		ids = append(ids, p.ID)
	}

	require.NoError(t, s.ReorderByList(ids))
	snap := s.Snapshot()
	for i, p := range snap {
		assert.Equal(t, ids[i], p.ID)
	}

	reversed := []string{ids[2], ids[1], ids[0]}
	require.NoError(t, s.ReorderByList(reversed))
	snap = s.Snapshot()
	for i, p := range snap {
		assert.Equal(t, reversed[i], p.ID)
	}
}

func TestStore_ReorderByList_RejectsMissingOrDuplicate(t *testing.T) {
	s := newTestStore(t)
	p := Profile{Header: Header{ID: NewID(VariantLocal), Name: "p", Files: []string{"a.yaml"}}, Type: VariantLocal}
	require.NoError(t, s.Append(p))

	err := s.ReorderByList([]string{p.ID, p.ID})
	assert.Error(t, err)

	err = s.ReorderByList([]string{"missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Patch_ConflictOnVariantMismatch(t *testing.T) {
	s := newTestStore(t)
	p := Profile{Header: Header{ID: NewID(VariantLocal), Name: "p", Files: []string{"a.yaml"}}, Type: VariantLocal}
	require.NoError(t, s.Append(p))

	url := "https://example.invalid/sub"
	err := s.Patch(p.ID, Patch{URL: &url})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStore_DeleteReportsReference(t *testing.T) {
	s := newTestStore(t)
	merge := Profile{Header: Header{ID: NewID(VariantMerge), Name: "m", Files: []string{"m.yaml"}}, Type: VariantMerge}
	require.NoError(t, s.Append(merge))

	draft := s.NewDraft()
	draft.SetChain([]string{merge.ID})
	require.NoError(t, draft.Apply())

	referenced, err := s.Delete(merge.ID)
	require.NoError(t, err)
	assert.True(t, referenced)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "profiles.yaml")
	profileDir := filepath.Join(dir, "profiles")

	s, err := Open(storePath, profileDir)
	require.NoError(t, err)
	p := Profile{Header: Header{ID: NewID(VariantLocal), Name: "p", Files: []string{"a.yaml"}}, Type: VariantLocal}
	require.NoError(t, s.Append(p))

	reopened, err := Open(storePath, profileDir)
	require.NoError(t, err)
	got, err := reopened.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
}
