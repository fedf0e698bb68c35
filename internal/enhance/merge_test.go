// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package enhance

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func decodeToMap(t *testing.T, doc string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(doc), &m))
	return m
}

// TestApplyMerge_ScenarioOne matches spec §8 scenario 1.
func TestApplyMerge_ScenarioOne(t *testing.T) {
	config, err := decode("proxies: [a]\nx:\n  y: [1, 2]\n")
	require.NoError(t, err)

	merge, err := decode(`
append-proxies: [b]
prepend__proxies: [c]
override__x.y: [9]
filter__proxies: "item ~= 'b'"
`)
	require.NoError(t, err)

	filterPredicate := func(expr string, item *yaml.Node) (bool, error) {
		// item ~= 'b' in Lua terms: keep everything except "b".
		return item.Value != "b", nil
	}

	logs, err := applyMerge(merge, config, filterPredicate)
	require.NoError(t, err)

	out, err := encode(config)
	require.NoError(t, err)

	assert.Equal(t,
		decodeToMap(t, "proxies: [c, a]\nx:\n  y: [9]\n"),
		decodeToMap(t, out),
	)
	assert.NotEmpty(t, logs)
}

// TestApplyMerge_OverrideIndexesIntoSequence matches original_source's
// test_override: a numeric path segment overrides one element of an
// existing sequence in place rather than replacing the sequence with a
// mapping.
func TestApplyMerge_OverrideIndexesIntoSequence(t *testing.T) {
	config, err := decode("a:\n  f: [444]\n")
	require.NoError(t, err)

	merge, err := decode("override__a.f.0: wow\n")
	require.NoError(t, err)

	_, err = applyMerge(merge, config, nil)
	require.NoError(t, err)

	out, err := encode(config)
	require.NoError(t, err)

	assert.Equal(t,
		decodeToMap(t, "a:\n  f: [wow]\n"),
		decodeToMap(t, out),
	)
}

func TestApplyMerge_FilterUsesLuaPredicate(t *testing.T) {
	config, err := decode("proxies: [a, b, c]\n")
	require.NoError(t, err)
	merge, err := decode(`filter__proxies: "item ~= 'b'"` + "\n")
	require.NoError(t, err)

	_, err = applyMerge(merge, config, func(expr string, item *yaml.Node) (bool, error) {
		return runFilterPredicate(context.Background(), expr, item)
	})
	require.NoError(t, err)

	out, err := encode(config)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "a"))
	assert.True(t, strings.Contains(out, "c"))
	assert.False(t, strings.Contains(out, "- b"))
}
