// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package enhance implements the Enhancement Pipeline: base assembly,
// per-item and global merge/script chains, the built-in chain, guard
// overrides, the whitelist filter, and finalization to the "run" file
// (spec §4.C). It is grounded on original_source's merge.rs, script/js.rs,
// and script/lua/mod.rs.
package enhance

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// cloneNode deep-copies a yaml.Node tree.
func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	cp := *n
	if len(n.Content) > 0 {
		cp.Content = make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			cp.Content[i] = cloneNode(c)
		}
	}
	return &cp
}

func unwrapDocument(n *yaml.Node) *yaml.Node {
	if n != nil && n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		return n.Content[0]
	}
	return n
}

func scalarNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

// mappingGet returns the value node for key in a mapping node, or nil.
func mappingGet(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// mappingSet sets key to value in a mapping node, inserting at the tail if
// absent (spec Open Question 3: new keys are appended at tail).
func mappingSet(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, scalarNode(key), value)
}

// findField walks a dotted path (numeric segments index sequences),
// grounded on original_source/enhance/merge.rs's find_field.
func findField(root *yaml.Node, path string) *yaml.Node {
	cur := unwrapDocument(root)
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if cur == nil {
			return nil
		}
		if idx, err := strconv.Atoi(seg); err == nil && cur.Kind == yaml.SequenceNode {
			if idx < 0 || idx >= len(cur.Content) {
				return nil
			}
			cur = cur.Content[idx]
			continue
		}
		if cur.Kind != yaml.MappingNode {
			return nil
		}
		cur = mappingGet(cur, seg)
	}
	return cur
}

// setField walks a dotted path (numeric segments index sequences, mirroring
// findField) and assigns value, creating intermediate mappings or sequences
// as needed. Used by override__k, whose caller first checks with findField
// that the path exists.
func setField(root *yaml.Node, path string, value *yaml.Node) {
	segments := strings.Split(path, ".")
	cur := unwrapDocument(root)
	for i, seg := range segments {
		last := i == len(segments)-1

		if idx, err := strconv.Atoi(seg); err == nil && cur.Kind == yaml.SequenceNode {
			if last {
				setSequenceIndex(cur, idx, value)
				return
			}
			if idx < 0 || idx >= len(cur.Content) {
				return
			}
			cur = cur.Content[idx]
			continue
		}

		if cur.Kind != yaml.MappingNode {
			return
		}
		if last {
			mappingSet(cur, seg, value)
			return
		}

		next := mappingGet(cur, seg)
		wantSeq := isIndexSegment(segments[i+1])
		if next == nil || (wantSeq && next.Kind != yaml.SequenceNode) || (!wantSeq && next.Kind != yaml.MappingNode) {
			next = containerFor(segments[i+1])
			mappingSet(cur, seg, next)
		}
		cur = next
	}
}

// isIndexSegment reports whether seg parses as a sequence index.
func isIndexSegment(seg string) bool {
	_, err := strconv.Atoi(seg)
	return err == nil
}

// containerFor returns the empty container a missing intermediate path
// segment needs: a sequence when the next segment indexes into it, a
// mapping otherwise.
func containerFor(nextSeg string) *yaml.Node {
	if isIndexSegment(nextSeg) {
		return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	}
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

// setSequenceIndex assigns value at idx in seq, appending when idx is
// exactly the current length and leaving out-of-range indices untouched.
func setSequenceIndex(seq *yaml.Node, idx int, value *yaml.Node) {
	switch {
	case idx >= 0 && idx < len(seq.Content):
		seq.Content[idx] = value
	case idx == len(seq.Content):
		seq.Content = append(seq.Content, value)
	}
}

// overrideRecursive implements merge.rs's override_recursive: if both sides
// are mappings, recurse key by key; otherwise replace.
func overrideRecursive(dst *yaml.Node, key string, value *yaml.Node) {
	existing := mappingGet(dst, key)
	if existing != nil && existing.Kind == yaml.MappingNode && value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			overrideRecursive(existing, value.Content[i].Value, value.Content[i+1])
		}
		return
	}
	mappingSet(dst, key, cloneNode(value))
}

// mergeSequence prepends or appends to a sequence node in place.
func mergeSequence(target *yaml.Node, toMerge *yaml.Node, append_ bool) {
	if target.Kind != yaml.SequenceNode || toMerge.Kind != yaml.SequenceNode {
		return
	}
	items := make([]*yaml.Node, len(toMerge.Content))
	for i, c := range toMerge.Content {
		items[i] = cloneNode(c)
	}
	if append_ {
		target.Content = append(target.Content, items...)
		return
	}
	target.Content = append(append([]*yaml.Node{}, items...), target.Content...)
}

// newMapping returns an empty mapping node.
func newMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

// decode parses a YAML document string into a mapping node.
func decode(doc string) (*yaml.Node, error) {
	var n yaml.Node
	if err := yaml.Unmarshal([]byte(doc), &n); err != nil {
		return nil, err
	}
	return unwrapDocument(&n), nil
}

// encode renders a mapping node as a YAML document string.
func encode(n *yaml.Node) (string, error) {
	out, err := yaml.Marshal(n)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
