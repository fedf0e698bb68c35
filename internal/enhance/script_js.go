// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package enhance

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"gopkg.in/yaml.v3"
)

// entryPointName is the default export dialect-A scripts must provide: a
// function taking the config and returning the transformed config (spec
// §4.C).
const entryPointName = "main"

// runDialectA evaluates a dialect-A (dynamic, ECMAScript-like) script
// against the current mapping, grounded on
// original_source/enhance/script/js.rs. The embedded console
// (log/info/warn/error) is captured into the returned logs; execution is
// sandboxed to the language's safe intrinsics only (no injected host
// bindings beyond console and the config argument).
func runDialectA(ctx context.Context, script string, config *yaml.Node) (*yaml.Node, []StepLog, error) {
	deadline := time.Now().Add(defaultScriptTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	var logs []StepLog
	console := vm.NewObject()
	logFn := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			msg := ""
			for i, arg := range call.Arguments {
				if i > 0 {
					msg += " "
				}
				msg += arg.String()
			}
			logs = append(logs, StepLog{Level: level, Message: msg})
			return goja.Undefined()
		}
	}
	_ = console.Set("log", logFn("info"))
	_ = console.Set("info", logFn("info"))
	_ = console.Set("warn", logFn("warn"))
	_ = console.Set("error", logFn("error"))
	_ = vm.Set("console", console)

	configJSON, err := yamlNodeToJSON(config)
	if err != nil {
		return nil, logs, fmt.Errorf("marshal config for js: %w", err)
	}
	if err := vm.GlobalObject().Set("__configJSON", string(configJSON)); err != nil {
		return nil, logs, fmt.Errorf("bind config json: %w", err)
	}

	timer := time.AfterFunc(time.Until(deadline), func() {
		vm.Interrupt("script timed out")
	})
	defer timer.Stop()

	wrapped := fmt.Sprintf(`
(function() {
  var config = JSON.parse(__configJSON);
  %s
  if (typeof %s !== "function") {
    throw new Error("script must define a %s(config) entry point");
  }
  var result = %s(config);
  return JSON.stringify(result);
})();
`, script, entryPointName, entryPointName, entryPointName)

	v, err := vm.RunString(wrapped)
	if err != nil {
		return nil, logs, fmt.Errorf("execute js script: %w", err)
	}

	resultJSON := []byte(v.String())
	result, err := jsonToYAMLNode(resultJSON)
	if err != nil {
		return nil, logs, fmt.Errorf("unmarshal js result: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, logs, fmt.Errorf("script execution context ended: %w", ctx.Err())
	default:
	}

	return result, logs, nil
}
