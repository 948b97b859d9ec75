// Package condition evaluates edge guard expressions. Conditions are boolean
// JS-like expressions over the trigger and the accumulated node outputs; they
// are precompiled at publish and plan time, and evaluation failures are soft:
// the conductor treats them as false and records an event.
package condition

import "context"

// Context is the read-only view a condition evaluates against.
type Context struct {
	Trigger map[string]interface{}
	Context map[string]interface{}
}

// Compiled is a reusable handle to a precompiled expression. Implementations
// must be safe for concurrent Evaluate calls.
type Compiled interface {
	// Evaluate returns the boolean result. Errors and timeouts are returned
	// so the caller can log them; the caller maps them to false.
	Evaluate(ctx context.Context, cctx *Context) (bool, error)
}

// Evaluator compiles condition expressions.
type Evaluator interface {
	Compile(expression string) (Compiled, error)
}
