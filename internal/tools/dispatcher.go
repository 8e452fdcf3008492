package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// InvalidToolName is the synthetic tool substituted when the model
// names an unknown tool or fails argument validation. Its "execution"
// is an error message the model can read and retry from; the turn
// never aborts on a bad call.
const InvalidToolName = "__invalid_tool_call__"

// Dispatcher routes model tool calls through validation and execution,
// converting every failure mode into a tool_result.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch executes one tool call. The returned name is the tool that
// actually ran: the requested one, or InvalidToolName on redirection.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]interface{}) (string, *Result) {
	t, ok := d.registry.Get(name)
	if !ok {
		return InvalidToolName, d.invalidCall(name, args, fmt.Sprintf("unknown tool %q", name))
	}

	if err := ValidateArgs(t.Schema(), args); err != nil {
		return InvalidToolName, d.invalidCall(name, args, err.Error())
	}

	result := d.execute(ctx, t, args)
	if result == nil {
		result = ErrorResult("tool returned no result")
	}
	if result.IsError {
		result.ForLLM = fmt.Sprintf("Error executing tool %q: %s", name, result.ForLLM)
	}
	return name, result
}

// execute contains panics from tool implementations.
func (d *Dispatcher) execute(ctx context.Context, t Tool, args map[string]interface{}) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panic", "tool", t.Name(), "panic", r)
			result = ErrorResult(fmt.Sprintf("%v", r))
		}
	}()
	return t.Execute(ctx, args)
}

func (d *Dispatcher) invalidCall(name string, args map[string]interface{}, validationErr string) *Result {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	slog.Warn("invalid tool call redirected",
		"attempted_tool", name, "error", validationErr)
	return ErrorResult(fmt.Sprintf(
		"Invalid tool call.\nattempted_tool_name: %s\nattempted_args: %s\nvalidation_error: %s",
		name, argsJSON, validationErr))
}
