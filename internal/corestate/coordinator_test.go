// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package corestate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingSubscriber struct {
	name        string
	failMigrate bool
	calls       *[]string
}

func (r *recordingSubscriber) Name() string { return r.name }

func (r *recordingSubscriber) Migrate(_ context.Context, _ *int, _ int) error {
	*r.calls = append(*r.calls, "migrate:"+r.name)
	if r.failMigrate {
		return errors.New("boom")
	}
	return nil
}

func (r *recordingSubscriber) Rollback(_ context.Context, _ *int, _ int) error {
	*r.calls = append(*r.calls, "rollback:"+r.name)
	return nil
}

// TestCoordinator_ScenarioFour matches spec §8 scenario 4.
func TestCoordinator_ScenarioFour(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls []string
	c := New[int]()
	c.AddSubscriber(&recordingSubscriber{name: "A", calls: &calls})
	c.AddSubscriber(&recordingSubscriber{name: "B", calls: &calls})
	c.AddSubscriber(&recordingSubscriber{name: "C_fail", failMigrate: true, calls: &calls})

	err := c.UpsertState(context.Background(), 42)
	require.Error(t, err)

	var migrateErr *MigrateError
	require.ErrorAs(t, err, &migrateErr)
	assert.Equal(t, "C_fail", migrateErr.Name)

	assert.Equal(t, []string{
		"migrate:A", "migrate:B", "migrate:C_fail",
		"rollback:C_fail", "rollback:B", "rollback:A",
	}, calls)

	assert.Nil(t, c.CurrentState())
}

func TestCoordinator_SuccessAppliesExactlyOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls []string
	c := New[int]()
	c.AddSubscriber(&recordingSubscriber{name: "A", calls: &calls})
	c.AddSubscriber(&recordingSubscriber{name: "B", calls: &calls})

	require.NoError(t, c.UpsertState(context.Background(), 7))
	assert.Equal(t, []string{"migrate:A", "migrate:B"}, calls)
	require.NotNil(t, c.CurrentState())
	assert.Equal(t, 7, *c.CurrentState())
}

func TestCoordinator_RemoveSubscriber(t *testing.T) {
	c := New[int]()
	var calls []string
	c.AddSubscriber(&recordingSubscriber{name: "A", calls: &calls})
	c.RemoveSubscriber("A")
	require.NoError(t, c.UpsertState(context.Background(), 1))
	assert.Empty(t, calls)
}
