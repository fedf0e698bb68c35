// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
	"gopkg.in/yaml.v3"
)

// defaultScriptTimeout is the per-step wall-clock timeout for both script
// dialects (spec §4.C: "implementation default 5s per step").
const defaultScriptTimeout = 5 * time.Second

// runDialectB evaluates a dialect-B (embeddable functional / Lua) script
// against a pre-bound global "config", grounded on
// original_source/enhance/script/lua/mod.rs. The script's return value
// becomes the new config; its keys are then reordered to match the input's
// key order recursively (spec §4.C, Open Question 3).
func runDialectB(ctx context.Context, script string, config *yaml.Node) (*yaml.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultScriptTimeout)
	defer cancel()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	configJSON, err := yamlNodeToJSON(config)
	if err != nil {
		return nil, fmt.Errorf("marshal config for lua: %w", err)
	}
	luaVal, err := jsonToLua(L, configJSON)
	if err != nil {
		return nil, fmt.Errorf("convert config to lua value: %w", err)
	}
	L.SetGlobal("config", luaVal)

	fn, err := L.LoadString(script)
	if err != nil {
		return nil, fmt.Errorf("compile lua script: %w", err)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("execute lua script: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	resultJSON, err := luaToJSON(ret)
	if err != nil {
		return nil, fmt.Errorf("convert lua result: %w", err)
	}
	result, err := jsonToYAMLNode(resultJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal lua result: %w", err)
	}

	reorderKeys(result, config)
	return result, nil
}

// runFilterPredicate evaluates a filter__k predicate expression (Lua boolean
// expression referencing the bound "item" global) for one sequence element,
// used by merge.go's filter__k handling.
func runFilterPredicate(ctx context.Context, expr string, item *yaml.Node) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultScriptTimeout)
	defer cancel()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	itemJSON, err := yamlNodeToJSON(item)
	if err != nil {
		return false, fmt.Errorf("marshal filter item: %w", err)
	}
	itemVal, err := jsonToLua(L, itemJSON)
	if err != nil {
		return false, fmt.Errorf("convert filter item: %w", err)
	}
	L.SetGlobal(boundFilterName, itemVal)

	fn, err := L.LoadString("return " + expr)
	if err != nil {
		return false, fmt.Errorf("compile filter expression: %w", err)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return false, fmt.Errorf("evaluate filter expression: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	return lua.LVAsBool(ret), nil
}

// reorderKeys walks result and reference in parallel, rewriting result's
// mapping key order to match reference's recursively, appending any keys
// present only in result at the tail in their original order (spec §4.C
// Open Question 3).
func reorderKeys(result, reference *yaml.Node) {
	if result == nil || reference == nil {
		return
	}
	if result.Kind != yaml.MappingNode || reference.Kind != yaml.MappingNode {
		return
	}

	resultVals := mappingToMap(result)
	var orderedKeys []string
	seen := make(map[string]struct{}, len(resultVals))

	for i := 0; i+1 < len(reference.Content); i += 2 {
		k := reference.Content[i].Value
		if v, ok := resultVals[k]; ok {
			orderedKeys = append(orderedKeys, k)
			seen[k] = struct{}{}
			if refChild := reference.Content[i+1]; refChild.Kind == yaml.MappingNode && v.Kind == yaml.MappingNode {
				reorderKeys(v, refChild)
			}
		}
	}
	for i := 0; i+1 < len(result.Content); i += 2 {
		k := result.Content[i].Value
		if _, ok := seen[k]; !ok {
			orderedKeys = append(orderedKeys, k)
		}
	}

	newContent := make([]*yaml.Node, 0, len(orderedKeys)*2)
	for _, k := range orderedKeys {
		newContent = append(newContent, scalarNode(k), resultVals[k])
	}
	result.Content = newContent
}

func mappingToMap(n *yaml.Node) map[string]*yaml.Node {
	out := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out[n.Content[i].Value] = n.Content[i+1]
	}
	return out
}

// --- JSON <-> Lua <-> yaml.Node bridging ---

func yamlNodeToJSON(n *yaml.Node) ([]byte, error) {
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func jsonToYAMLNode(data []byte) (*yaml.Node, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	return &n, nil
}

func jsonToLua(L *lua.LState, data []byte) (lua.LValue, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return goToLua(L, v), nil
}

func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []interface{}:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, goToLua(L, item))
		}
		return t
	case map[string]interface{}:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, goToLua(L, item))
		}
		return t
	default:
		return lua.LNil
	}
}

func luaToJSON(v lua.LValue) ([]byte, error) {
	return json.Marshal(luaToGo(v))
}

func luaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		// Distinguish array vs map: a table whose keys are a contiguous
		// 1..N integer sequence is treated as an array.
		maxN := val.Len()
		isArray := maxN > 0
		count := 0
		val.ForEach(func(k, _ lua.LValue) { count++ })
		if count != maxN {
			isArray = false
		}
		if isArray {
			out := make([]interface{}, 0, maxN)
			for i := 1; i <= maxN; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]interface{})
		val.ForEach(func(k, v lua.LValue) {
			out[k.String()] = luaToGo(v)
		})
		return out
	default:
		return nil
	}
}
