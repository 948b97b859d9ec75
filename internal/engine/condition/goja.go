package condition

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// GojaEvaluator compiles conditions to goja programs. Programs are compiled
// once and shared; each evaluation runs in a fresh runtime so concurrent edge
// evaluations never share VM state.
type GojaEvaluator struct {
	Timeout time.Duration
}

func NewGojaEvaluator(timeout time.Duration) *GojaEvaluator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &GojaEvaluator{Timeout: timeout}
}

func (e *GojaEvaluator) Compile(expression string) (Compiled, error) {
	// Parenthesized so object literals parse as expressions.
	program, err := goja.Compile("condition", "("+expression+")", true)
	if err != nil {
		return nil, fmt.Errorf("condition compile error: %w", err)
	}
	return &gojaCondition{program: program, timeout: e.Timeout}, nil
}

type gojaCondition struct {
	program *goja.Program
	timeout time.Duration
}

func (c *gojaCondition) Evaluate(ctx context.Context, cctx *Context) (bool, error) {
	vm := goja.New()

	if err := vm.Set("trigger", cctx.Trigger); err != nil {
		return false, fmt.Errorf("failed to set trigger: %w", err)
	}
	if err := vm.Set("context", cctx.Context); err != nil {
		return false, fmt.Errorf("failed to set context: %w", err)
	}

	timer := time.AfterFunc(c.timeout, func() {
		vm.Interrupt("condition evaluation timeout exceeded")
	})
	defer timer.Stop()

	var result bool
	var evalErr error

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				evalErr = fmt.Errorf("condition panic: %v", r)
			}
		}()

		val, err := vm.RunProgram(c.program)
		if err != nil {
			evalErr = err
			return
		}
		result = val.ToBoolean()
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt("context cancelled")
		<-done
		return false, ctx.Err()
	case <-done:
		return result, evalErr
	}
}
