package template

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

var interpolationRegex = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// ExprEvaluator renders templates with expr-lang. A string value that is a
// single `{{ ... }}` expression keeps the expression's native type; a string
// with embedded expressions is interpolated into a string; everything else
// passes through, with maps and slices rendered recursively.
type ExprEvaluator struct {
	Timeout time.Duration
}

func NewExprEvaluator(timeout time.Duration) *ExprEvaluator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ExprEvaluator{Timeout: timeout}
}

func (e *ExprEvaluator) Compile(params map[string]interface{}) error {
	return walkTemplates(params, "", func(path, expression string) error {
		if _, err := expr.Compile(expression, expr.AllowUndefinedVariables()); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	})
}

func (e *ExprEvaluator) Render(ctx context.Context, params map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	deadline := time.Now().Add(e.Timeout)
	env := buildEnv(tctx)

	rendered, err := e.renderValue(ctx, params, env, deadline)
	if err != nil {
		return nil, err
	}
	return rendered.(map[string]interface{}), nil
}

// DryRender renders against an empty context; used by publish validation.
func (e *ExprEvaluator) DryRender(params map[string]interface{}) error {
	_, err := e.Render(context.Background(), params, &Context{
		Trigger: map[string]interface{}{},
		Context: map[string]interface{}{},
		Vars:    map[string]interface{}{},
	})
	return err
}

func (e *ExprEvaluator) renderValue(ctx context.Context, value interface{}, env map[string]interface{}, deadline time.Time) (interface{}, error) {
	if time.Now().After(deadline) {
		return nil, fmt.Errorf("template render timed out after %s", e.Timeout)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	switch v := value.(type) {
	case string:
		return e.renderString(v, env)

	case map[string]interface{}:
		rendered := make(map[string]interface{}, len(v))
		for k, val := range v {
			out, err := e.renderValue(ctx, val, env, deadline)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			rendered[k] = out
		}
		return rendered, nil

	case []interface{}:
		rendered := make([]interface{}, len(v))
		for i, val := range v {
			out, err := e.renderValue(ctx, val, env, deadline)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			rendered[i] = out
		}
		return rendered, nil

	default:
		return value, nil
	}
}

func (e *ExprEvaluator) renderString(s string, env map[string]interface{}) (interface{}, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	// Single whole-string expression keeps its native type.
	if m := interpolationRegex.FindStringSubmatch(s); m != nil && m[0] == strings.TrimSpace(s) {
		return evaluate(m[1], env)
	}

	var evalErr error
	result := interpolationRegex.ReplaceAllStringFunc(s, func(match string) string {
		expression := interpolationRegex.FindStringSubmatch(match)[1]
		val, err := evaluate(expression, env)
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			return match
		}
		return fmt.Sprintf("%v", val)
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return result, nil
}

func evaluate(expression string, env map[string]interface{}) (interface{}, error) {
	program, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("runtime error: %w", err)
	}
	return result, nil
}

func buildEnv(tctx *Context) map[string]interface{} {
	now := time.Now()
	return map[string]interface{}{
		"trigger":   tctx.Trigger,
		"context":   tctx.Context,
		"vars":      tctx.Vars,
		"now":       now,
		"today":     now.Format("2006-01-02"),
		"timestamp": now.Unix(),

		"uppercase": strings.ToUpper,
		"lowercase": strings.ToLower,
		"trim":      strings.TrimSpace,
		"contains":  strings.Contains,
		"replace":   strings.ReplaceAll,
		"split":     strings.Split,
		"join":      strings.Join,
	}
}

// walkTemplates visits every template expression in a parameter tree.
func walkTemplates(value interface{}, path string, visit func(path, expression string) error) error {
	switch v := value.(type) {
	case string:
		for _, m := range interpolationRegex.FindAllStringSubmatch(v, -1) {
			if err := visit(path, m[1]); err != nil {
				return err
			}
		}
		return nil

	case map[string]interface{}:
		for k, val := range v {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if err := walkTemplates(val, childPath, visit); err != nil {
				return err
			}
		}
		return nil

	case []interface{}:
		for i, val := range v {
			if err := walkTemplates(val, fmt.Sprintf("%s[%d]", path, i), visit); err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}
