// Package template renders node parameter trees against the execution
// context. The evaluator is a pure function of its inputs; the conductor owns
// when and how often rendering happens.
package template

import "context"

// Context is the read-only view a template renders against.
type Context struct {
	Trigger map[string]interface{}
	Context map[string]interface{}
	Vars    map[string]interface{}
}

// Evaluator renders a parameter tree. Compile is the publish-time syntax
// check; Render is the runtime path and must respect the configured timeout.
type Evaluator interface {
	Compile(params map[string]interface{}) error
	Render(ctx context.Context, params map[string]interface{}, tctx *Context) (map[string]interface{}, error)
}
