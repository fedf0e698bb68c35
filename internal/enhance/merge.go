// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package enhance

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// StepLog is one warning/error message recorded by a pipeline step,
// matching spec §4.C's "Missing path or wrong kind at path logs a warning
// and continues."
type StepLog struct {
	Level   string // "warn" or "error"
	Message string
}

// boundFilterName is the well-known name the current sequence element is
// bound to while evaluating a filter__k predicate (spec §4.C).
const boundFilterName = "item"

// applyMerge applies a Merge document's keys onto config in place, and
// returns the per-step logs. Grounded on original_source/enhance/merge.rs's
// use_merge: plain-key recursive override; prepend-k/prepend__k; append-k/
// append__k; override__k; filter__k.
func applyMerge(merge *yaml.Node, config *yaml.Node, filterPredicate func(expr string, item *yaml.Node) (bool, error)) ([]StepLog, error) {
	var logs []StepLog
	if merge == nil || merge.Kind != yaml.MappingNode {
		return logs, nil
	}

	for i := 0; i+1 < len(merge.Content); i += 2 {
		rawKey := merge.Content[i].Value
		value := merge.Content[i+1]
		keyLower := strings.ToLower(rawKey)

		switch {
		case strings.HasPrefix(keyLower, "prepend__") || strings.HasPrefix(keyLower, "prepend-"):
			path := stripAny(keyLower, "prepend__", "prepend-")
			if value.Kind != yaml.SequenceNode {
				logs = append(logs, StepLog{"warn", fmt.Sprintf("prepend value is not sequence: %q", path)})
				continue
			}
			field := findField(config, path)
			if field == nil {
				logs = append(logs, StepLog{"warn", fmt.Sprintf("field not found: %q", path)})
				continue
			}
			if field.Kind != yaml.SequenceNode {
				logs = append(logs, StepLog{"warn", fmt.Sprintf("field is not sequence: %q", path)})
				continue
			}
			mergeSequence(field, value, false)

		case strings.HasPrefix(keyLower, "append__") || strings.HasPrefix(keyLower, "append-"):
			path := stripAny(keyLower, "append__", "append-")
			if value.Kind != yaml.SequenceNode {
				logs = append(logs, StepLog{"warn", fmt.Sprintf("append value is not sequence: %q", path)})
				continue
			}
			field := findField(config, path)
			if field == nil {
				logs = append(logs, StepLog{"warn", fmt.Sprintf("field not found: %q", path)})
				continue
			}
			if field.Kind != yaml.SequenceNode {
				logs = append(logs, StepLog{"warn", fmt.Sprintf("field is not sequence: %q", path)})
				continue
			}
			mergeSequence(field, value, true)

		case strings.HasPrefix(keyLower, "override__"):
			path := strings.TrimPrefix(keyLower, "override__")
			field := findField(config, path)
			if field == nil {
				logs = append(logs, StepLog{"warn", fmt.Sprintf("field not found: %q", path)})
				continue
			}
			setField(config, path, cloneNode(value))

		case strings.HasPrefix(keyLower, "filter__"):
			path := strings.TrimPrefix(keyLower, "filter__")
			if value.Kind != yaml.ScalarNode {
				logs = append(logs, StepLog{"warn", fmt.Sprintf("filter value is not string: %q", path)})
				continue
			}
			field := findField(config, path)
			if field == nil {
				logs = append(logs, StepLog{"warn", fmt.Sprintf("field not found: %q", path)})
				continue
			}
			if field.Kind != yaml.SequenceNode {
				logs = append(logs, StepLog{"warn", fmt.Sprintf("field is not sequence: %q", path)})
				continue
			}
			expr := value.Value
			kept := field.Content[:0:0]
			for _, item := range field.Content {
				// Open Question 1: retain on predicate-evaluation error is
				// false (drop the element); preserve verbatim.
				ok, err := filterPredicate(expr, item)
				if err != nil {
					logs = append(logs, StepLog{"error", err.Error()})
					continue
				}
				if ok {
					kept = append(kept, item)
				} else {
					logs = append(logs, StepLog{"warn", fmt.Sprintf("filter dropped element from %q: %s", path, item.Value)})
				}
			}
			field.Content = kept

		default:
			overrideRecursive(config, rawKey, value)
		}
	}

	return logs, nil
}

func stripAny(s string, prefixes ...string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return strings.TrimPrefix(s, p)
		}
	}
	return s
}
