// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package enhance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDialectA_EntryPoint(t *testing.T) {
	config, err := decode("port: 1\n")
	require.NoError(t, err)

	script := `function main(config) { config.port = config.port + 1; console.log("bumped"); return config; }`
	result, logs, err := runDialectA(context.Background(), script, config)
	require.NoError(t, err)

	out, err := encode(result)
	require.NoError(t, err)
	assert.Contains(t, out, "port: 2")
	assert.NotEmpty(t, logs)
}

func TestRunDialectB_ReordersKeysToMatchInput(t *testing.T) {
	config, err := decode("b: 1\na: 2\nc:\n  y: 1\n  x: 2\n")
	require.NoError(t, err)

	script := `return { a = config.a, b = config.b, c = { x = config.c.x, y = config.c.y }, d = 5 }`
	result, err := runDialectB(context.Background(), script, config)
	require.NoError(t, err)

	var keys []string
	for i := 0; i+1 < len(result.Content); i += 2 {
		keys = append(keys, result.Content[i].Value)
	}
	assert.Equal(t, []string{"b", "a", "c", "d"}, keys)

	cNode := mappingGet(result, "c")
	var cKeys []string
	for i := 0; i+1 < len(cNode.Content); i += 2 {
		cKeys = append(cKeys, cNode.Content[i].Value)
	}
	assert.Equal(t, []string{"y", "x"}, cKeys)
}
