// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package snapshot implements the Config Snapshot Graph: a directed tree of
// ordered-mapping snapshots produced by the Enhancement Pipeline, used for
// diagnostics and UI change highlighting (spec §3, §4.C, §4.G).
package snapshot

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Kind tags which pipeline step produced a snapshot node.
type Kind string

const (
	KindRoot             Kind = "root"
	KindChainItem        Kind = "chain_item"
	KindProfileSecondary  Kind = "profile_secondary"
	KindMergeOtherProfile Kind = "merge_other_profiles"
	KindBuiltinChain      Kind = "builtin_chain"
	KindGuardOverrides    Kind = "guard_overrides"
	KindWhitelistFilter   Kind = "whitelist_filter"
	KindFinalize          Kind = "finalize"
)

// Snapshot is an immutable ordered mapping plus the set of dotted paths that
// changed relative to its parent (spec §3).
type Snapshot struct {
	Mapping       *yaml.Node
	ChangedFields []string
}

// node is one arena entry: a snapshot plus its tag and parent index. Using
// an arena of integer indices rather than owned child pointers (spec Design
// Notes §9) makes cycle/multi-parent validation trivial and the tree<->flat
// conversion a single pass.
type node struct {
	kind     Kind
	snapshot Snapshot
	parent   int // -1 for the root
}

// Graph is the arena-backed directed tree of snapshots.
type Graph struct {
	nodes []node
	root  int // index of the root node, -1 if empty
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{root: -1}
}

// AddRoot inserts the first node (no parent) and returns its index.
func (g *Graph) AddRoot(kind Kind, mapping *yaml.Node) (int, error) {
	if g.root != -1 {
		return -1, fmt.Errorf("snapshot: graph already has a root")
	}
	g.nodes = append(g.nodes, node{kind: kind, snapshot: Snapshot{Mapping: mapping}, parent: -1})
	g.root = 0
	return 0, nil
}

// AddChild appends a node as a child of parentIdx, computing ChangedFields
// as the diff against the parent's mapping.
func (g *Graph) AddChild(parentIdx int, kind Kind, mapping *yaml.Node) (int, error) {
	if parentIdx < 0 || parentIdx >= len(g.nodes) {
		return -1, fmt.Errorf("snapshot: invalid parent index %d", parentIdx)
	}
	parent := g.nodes[parentIdx]
	changed := Diff(parent.snapshot.Mapping, mapping)

	idx := len(g.nodes)
	g.nodes = append(g.nodes, node{
		kind:     kind,
		snapshot: Snapshot{Mapping: mapping, ChangedFields: changed},
		parent:   parentIdx,
	})
	return idx, nil
}

// Node returns the snapshot and kind at idx.
func (g *Graph) Node(idx int) (Kind, Snapshot, error) {
	if idx < 0 || idx >= len(g.nodes) {
		return "", Snapshot{}, fmt.Errorf("snapshot: invalid node index %d", idx)
	}
	n := g.nodes[idx]
	return n.kind, n.snapshot, nil
}

// Root returns the root node index, or -1 if the graph is empty.
func (g *Graph) Root() int { return g.root }

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// FlatEdge is one parent->child relationship in the flat representation.
type FlatEdge struct {
	Parent int
	Child  int
}

// Flat returns the graph's (nodes, edges, root) representation.
func (g *Graph) Flat() (nodesOut []Kind, edges []FlatEdge, root int) {
	for _, n := range g.nodes {
		nodesOut = append(nodesOut, n.kind)
	}
	for i, n := range g.nodes {
		if n.parent >= 0 {
			edges = append(edges, FlatEdge{Parent: n.parent, Child: i})
		}
	}
	return nodesOut, edges, g.root
}

// Validate checks the rules required of every built graph (spec §4.C,
// §8): single root, no self-edges, no multiple parents, no cycles, no
// unreachable nodes.
func (g *Graph) Validate() error {
	if len(g.nodes) == 0 {
		return nil
	}
	if g.root < 0 || g.root >= len(g.nodes) {
		return fmt.Errorf("snapshot: invalid root index %d", g.root)
	}

	parentOf := make(map[int]int, len(g.nodes))
	for i, n := range g.nodes {
		if i == g.root {
			if n.parent != -1 {
				return fmt.Errorf("snapshot: root node %d has a parent", i)
			}
			continue
		}
		if n.parent == i {
			return fmt.Errorf("snapshot: self-edge at node %d", i)
		}
		if n.parent < 0 || n.parent >= len(g.nodes) {
			return fmt.Errorf("snapshot: node %d has invalid parent %d", i, n.parent)
		}
		if _, dup := parentOf[i]; dup {
			return fmt.Errorf("snapshot: node %d has multiple parents", i)
		}
		parentOf[i] = n.parent
	}

	// Reachability + cycle detection: walk from root via BFS over the
	// children implied by parentOf; any node not visited is either
	// unreachable or part of a cycle disconnected from root.
	children := make(map[int][]int, len(g.nodes))
	for child, parent := range parentOf {
		children[parent] = append(children[parent], child)
	}
	visited := make(map[int]bool, len(g.nodes))
	queue := []int{g.root}
	visited[g.root] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if visited[c] {
				return fmt.Errorf("snapshot: cycle detected at node %d", c)
			}
			visited[c] = true
			queue = append(queue, c)
		}
	}
	for i := range g.nodes {
		if !visited[i] {
			return fmt.Errorf("snapshot: node %d is unreachable from root", i)
		}
	}
	return nil
}

// sortedKeys is a small helper used by Diff to produce deterministic
// dotted-path ordering.
func sortedKeys(m map[string]*yaml.Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
