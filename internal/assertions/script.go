package assertions

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/testbench-io/testbench/internal/wire"
)

// scriptTimeout bounds a single SCRIPT assertion.
var scriptTimeout = 2 * time.Second

// evalScript runs Expected as a JavaScript expression with a `response`
// object in scope. The assertion passes when the result is truthy.
func evalScript(spec wire.AssertionSpec, resp wire.Response) (*string, bool, string) {
	if strings.TrimSpace(spec.Expected) == "" {
		return nil, false, "script (expected) is required"
	}

	program, err := goja.Compile("assertion", spec.Expected, false)
	if err != nil {
		return nil, false, fmt.Sprintf("javascript syntax error: %v", err)
	}

	vm := goja.New()
	if err := vm.Set("response", scriptResponse(vm, resp)); err != nil {
		return nil, false, fmt.Sprintf("failed to set up script runtime: %v", err)
	}

	timer := time.AfterFunc(scriptTimeout, func() {
		vm.Interrupt("script assertion timed out")
	})
	defer timer.Stop()

	v, err := vm.RunProgram(program)
	if err != nil {
		return nil, false, fmt.Sprintf("javascript execution error: %v", err)
	}

	actual := v.String()
	if v.ToBoolean() {
		return strPtr(actual), true, ""
	}
	return strPtr(actual), false, fmt.Sprintf("script evaluated to %s", actual)
}

func scriptResponse(vm *goja.Runtime, resp wire.Response) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("status", resp.StatusCode)
	_ = obj.Set("body", string(resp.Body))
	_ = obj.Set("latencyMs", resp.LatencyMs)

	headers := vm.NewObject()
	for k, v := range resp.Headers {
		_ = headers.Set(strings.ToLower(k), strings.Join(v, ", "))
	}
	_ = obj.Set("headers", headers)

	var parsed any
	if err := json.Unmarshal(resp.Body, &parsed); err == nil {
		_ = obj.Set("json", vm.ToValue(parsed))
	} else {
		_ = obj.Set("json", goja.Null())
	}
	return obj
}
