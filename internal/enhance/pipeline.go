// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package enhance

import (
	"context"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/veilmesh/veilcore/internal/core/pathutil"
	corelog "github.com/veilmesh/veilcore/internal/log"
	"github.com/veilmesh/veilcore/internal/profile"
	"github.com/veilmesh/veilcore/internal/snapshot"
)

var pipelineLogger = corelog.WithComponent("enhance")

// StepResult is one pipeline step's outcome: its snapshot node index, the
// logs it produced, and whether it failed (spec §4.C, §7: "Pipeline step —
// individual merge/script step failed; captured per-step, logged, pipeline
// continues with pre-step mapping").
type StepResult struct {
	Kind      snapshot.Kind
	NodeIndex int
	Logs      []StepLog
	Err       error
}

// PostProcessingOutput is the pipeline's per-step log/error summary.
type PostProcessingOutput struct {
	Steps       []StepResult
	ExistedKeys []string // keys dropped by the whitelist filter, for UI display
}

// Deps bundles what Run needs to execute one pipeline pass.
type Deps struct {
	Store         *profile.Store
	ProfileDir    string
	BuiltinChain  func(*yaml.Node) ([]StepLog, error)
	GuardOverride *yaml.Node
	RunFilePath   string
}

// Run executes the full Enhancement Pipeline (spec §4.C steps 1-7) and
// returns the final RuntimeConfig mapping, the per-step log summary, and
// the ConfigSnapshotGraph.
func Run(ctx context.Context, deps Deps) (*yaml.Node, PostProcessingOutput, *snapshot.Graph, error) {
	current := deps.Store.Current()
	if len(current) == 0 {
		return nil, PostProcessingOutput{}, nil, fmt.Errorf("enhance: no base profile configured in current")
	}

	graph := snapshot.New()
	var out PostProcessingOutput

	// Step 1: base assembly.
	baseProfile, err := deps.Store.Get(current[0])
	if err != nil {
		return nil, out, nil, fmt.Errorf("enhance: base profile: %w", err)
	}
	config, err := loadMappingContent(deps.ProfileDir, baseProfile)
	if err != nil {
		return nil, out, nil, fmt.Errorf("enhance: load base profile: %w", err)
	}
	rootIdx, err := graph.AddRoot(snapshot.KindRoot, cloneNode(config))
	if err != nil {
		return nil, out, nil, err
	}
	out.Steps = append(out.Steps, StepResult{Kind: snapshot.KindRoot, NodeIndex: rootIdx})
	lastIdx := rootIdx

	if len(current) > 1 {
		for _, id := range current[1:] {
			p, err := deps.Store.Get(id)
			if err != nil {
				out.Steps = append(out.Steps, StepResult{Kind: snapshot.KindMergeOtherProfile, Err: err})
				continue
			}
			other, err := loadMappingContent(deps.ProfileDir, p)
			if err != nil {
				out.Steps = append(out.Steps, StepResult{Kind: snapshot.KindMergeOtherProfile, Err: err})
				continue
			}
			proxies := mappingGet(other, "proxies")
			if proxies != nil && proxies.Kind == yaml.SequenceNode {
				target := mappingGet(config, "proxies")
				if target == nil {
					target = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
					mappingSet(config, "proxies", target)
				}
				mergeSequence(target, proxies, true)
			}
			idx, err := graph.AddChild(lastIdx, snapshot.KindMergeOtherProfile, cloneNode(config))
			if err != nil {
				return nil, out, nil, err
			}
			out.Steps = append(out.Steps, StepResult{Kind: snapshot.KindMergeOtherProfile, NodeIndex: idx})
			lastIdx = idx
		}
	}

	// Step 2: per-item chain.
	for _, id := range current {
		p, err := deps.Store.Get(id)
		if err != nil {
			continue
		}
		for _, chainID := range p.Chain {
			lastIdx, out = runChainItem(ctx, deps, graph, lastIdx, config, chainID, snapshot.KindChainItem, out)
		}
	}

	// Step 3: global chain.
	for _, chainID := range deps.Store.Chain() {
		lastIdx, out = runChainItem(ctx, deps, graph, lastIdx, config, chainID, snapshot.KindChainItem, out)
	}

	// Step 4: built-in chain.
	if deps.BuiltinChain != nil {
		logs, err := deps.BuiltinChain(config)
		idx, gerr := graph.AddChild(lastIdx, snapshot.KindBuiltinChain, cloneNode(config))
		if gerr != nil {
			return nil, out, nil, gerr
		}
		out.Steps = append(out.Steps, StepResult{Kind: snapshot.KindBuiltinChain, NodeIndex: idx, Logs: logs, Err: err})
		lastIdx = idx
	}

	// Step 5: guard overrides.
	if deps.GuardOverride != nil {
		logs, _ := applyMerge(deps.GuardOverride, config, filterPredicateFor(ctx))
		idx, gerr := graph.AddChild(lastIdx, snapshot.KindGuardOverrides, cloneNode(config))
		if gerr != nil {
			return nil, out, nil, gerr
		}
		out.Steps = append(out.Steps, StepResult{Kind: snapshot.KindGuardOverrides, NodeIndex: idx, Logs: logs})
		lastIdx = idx
	}

	// Step 6: whitelist filter.
	validKeys := deps.Store.ValidKeys()
	if len(validKeys) > 0 {
		out.ExistedKeys = applyWhitelist(config, validKeys)
		idx, gerr := graph.AddChild(lastIdx, snapshot.KindWhitelistFilter, cloneNode(config))
		if gerr != nil {
			return nil, out, nil, gerr
		}
		out.Steps = append(out.Steps, StepResult{Kind: snapshot.KindWhitelistFilter, NodeIndex: idx})
		lastIdx = idx
	}

	// Step 7: finalize.
	if err := writeRunFile(deps.RunFilePath, config); err != nil {
		return nil, out, graph, fmt.Errorf("enhance: finalize run file: %w", err)
	}
	finalIdx, gerr := graph.AddChild(lastIdx, snapshot.KindFinalize, cloneNode(config))
	if gerr != nil {
		return nil, out, graph, gerr
	}
	out.Steps = append(out.Steps, StepResult{Kind: snapshot.KindFinalize, NodeIndex: finalIdx})

	if err := graph.Validate(); err != nil {
		return nil, out, graph, fmt.Errorf("enhance: invalid snapshot graph: %w", err)
	}

	return config, out, graph, nil
}

// runChainItem runs one Merge or Script chain profile against config in
// place and records its snapshot node. Errors are swallowed per spec §4.C/§7
// and §9 Open Question 2 (per-step, not whole-pipeline failure); the
// pipeline continues with the pre-step mapping.
func runChainItem(ctx context.Context, deps Deps, graph *snapshot.Graph, parentIdx int, config *yaml.Node, chainID string, kind snapshot.Kind, out PostProcessingOutput) (int, PostProcessingOutput) {
	p, err := deps.Store.Get(chainID)
	if err != nil {
		out.Steps = append(out.Steps, StepResult{Kind: kind, Err: err})
		return parentIdx, out
	}
	if !p.Type.IsChainable() {
		out.Steps = append(out.Steps, StepResult{Kind: kind, Err: fmt.Errorf("chain profile %s is not Merge or Script", chainID)})
		return parentIdx, out
	}

	before := cloneNode(config)
	var logs []StepLog
	var stepErr error

	switch p.Type {
	case profile.VariantMerge:
		mergeDoc, loadErr := loadMappingContent(deps.ProfileDir, p)
		if loadErr != nil {
			stepErr = loadErr
			break
		}
		logs, stepErr = applyMerge(mergeDoc, config, filterPredicateFor(ctx))
	case profile.VariantScript:
		src, loadErr := loadScriptSource(deps.ProfileDir, p)
		if loadErr != nil {
			stepErr = loadErr
			break
		}
		var result *yaml.Node
		switch p.Dialect {
		case profile.DialectA:
			result, logs, stepErr = runDialectA(ctx, src, config)
		case profile.DialectB:
			result, stepErr = runDialectB(ctx, src, config)
		default:
			stepErr = fmt.Errorf("unknown script dialect %q", p.Dialect)
		}
		if stepErr == nil && result != nil {
			*config = *result
		}
	}

	if stepErr != nil {
		// Restore the pre-step mapping; the step's own error is recorded but
		// does not abort the pipeline.
		*config = *before
		pipelineLogger.Warn().Err(stepErr).Str(corelog.FieldPipelineStep, string(kind)).Msg("pipeline step failed")
	}

	idx, gerr := graph.AddChild(parentIdx, kind, cloneNode(config))
	if gerr != nil {
		out.Steps = append(out.Steps, StepResult{Kind: kind, Err: gerr})
		return parentIdx, out
	}
	out.Steps = append(out.Steps, StepResult{Kind: kind, NodeIndex: idx, Logs: logs, Err: stepErr})
	return idx, out
}

func filterPredicateFor(ctx context.Context) func(string, *yaml.Node) (bool, error) {
	return func(expr string, item *yaml.Node) (bool, error) {
		return runFilterPredicate(ctx, expr, item)
	}
}

// applyWhitelist drops top-level keys not in validKeys, returning the
// dropped key names for UI display (spec §4.C step 6: "existed keys").
func applyWhitelist(config *yaml.Node, validKeys map[string]struct{}) []string {
	if config.Kind != yaml.MappingNode {
		return nil
	}
	var existed []string
	var kept []*yaml.Node
	for i := 0; i+1 < len(config.Content); i += 2 {
		key := config.Content[i]
		val := config.Content[i+1]
		if _, ok := validKeys[key.Value]; ok {
			kept = append(kept, key, val)
		} else {
			existed = append(existed, key.Value)
		}
	}
	config.Content = kept
	return existed
}

func writeRunFile(path string, config *yaml.Node) error {
	out, err := encode(config)
	if err != nil {
		return err
	}
	pf, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending run file: %w", err)
	}
	defer pf.Cleanup() //nolint:errcheck
	if _, err := pf.Write([]byte(out)); err != nil {
		return fmt.Errorf("write run file: %w", err)
	}
	return pf.CloseAtomicallyReplace()
}

func loadMappingContent(profileDir string, p profile.Profile) (*yaml.Node, error) {
	if len(p.Files) == 0 {
		return nil, fmt.Errorf("profile %s has no files", p.ID)
	}
	path, err := pathutil.SecureJoin(profileDir, p.Files[0])
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var n yaml.Node
	if err := yaml.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	return unwrapDocument(&n), nil
}

func loadScriptSource(profileDir string, p profile.Profile) (string, error) {
	if len(p.Files) == 0 {
		return "", fmt.Errorf("script profile %s has no files", p.ID)
	}
	path, err := pathutil.SecureJoin(profileDir, p.Files[0])
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
