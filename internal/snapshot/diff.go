// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package snapshot

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// Diff compares two ordered-mapping snapshots and returns the set of
// dotted paths that differ (spec §3 ConfigSnapshot, §8 scenario 6):
// recursive comparison, sequences compared elementwise.
func Diff(prev, next *yaml.Node) []string {
	changed := map[string]struct{}{}
	diffInto(prev, next, "", changed)

	out := make([]string, 0, len(changed))
	for k := range changed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func diffInto(prev, next *yaml.Node, path string, changed map[string]struct{}) {
	prev = unwrapDocument(prev)
	next = unwrapDocument(next)

	if next == nil {
		if prev != nil {
			changed[path] = struct{}{}
		}
		return
	}
	if prev == nil {
		markAllLeaves(next, path, changed)
		return
	}

	switch {
	case prev.Kind == yaml.MappingNode && next.Kind == yaml.MappingNode:
		diffMappings(prev, next, path, changed)
	case prev.Kind == yaml.SequenceNode && next.Kind == yaml.SequenceNode:
		diffSequences(prev, next, path, changed)
	default:
		if !scalarEqual(prev, next) {
			markAllLeaves(next, path, changed)
		}
	}
}

func diffMappings(prev, next *yaml.Node, path string, changed map[string]struct{}) {
	prevVals := mappingToMap(prev)
	nextVals := mappingToMap(next)

	for _, k := range sortedKeys(nextVals) {
		childPath := joinPath(path, k)
		pv, ok := prevVals[k]
		if !ok {
			markAllLeaves(nextVals[k], childPath, changed)
			continue
		}
		diffInto(pv, nextVals[k], childPath, changed)
	}
	for _, k := range sortedKeys(prevVals) {
		if _, ok := nextVals[k]; !ok {
			changed[joinPath(path, k)] = struct{}{}
		}
	}
}

func diffSequences(prev, next *yaml.Node, path string, changed map[string]struct{}) {
	max := len(prev.Content)
	if len(next.Content) > max {
		max = len(next.Content)
	}
	if len(prev.Content) != len(next.Content) {
		changed[path] = struct{}{}
	}
	for i := 0; i < max; i++ {
		var pv, nv *yaml.Node
		if i < len(prev.Content) {
			pv = prev.Content[i]
		}
		if i < len(next.Content) {
			nv = next.Content[i]
		}
		diffInto(pv, nv, path, changed)
	}
}

func scalarEqual(a, b *yaml.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Value == b.Value && a.Tag == b.Tag
}

func mappingToMap(n *yaml.Node) map[string]*yaml.Node {
	out := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out[n.Content[i].Value] = n.Content[i+1]
	}
	return out
}

func markAllLeaves(n *yaml.Node, path string, changed map[string]struct{}) {
	if n == nil {
		changed[path] = struct{}{}
		return
	}
	switch n.Kind {
	case yaml.MappingNode:
		vals := mappingToMap(n)
		if len(vals) == 0 {
			changed[path] = struct{}{}
			return
		}
		for _, k := range sortedKeys(vals) {
			markAllLeaves(vals[k], joinPath(path, k), changed)
		}
	case yaml.SequenceNode:
		changed[path] = struct{}{}
	default:
		changed[path] = struct{}{}
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func unwrapDocument(n *yaml.Node) *yaml.Node {
	if n != nil && n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		return n.Content[0]
	}
	return n
}
