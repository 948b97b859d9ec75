package condition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalContext() *Context {
	return &Context{
		Trigger: map[string]interface{}{"priority": float64(5), "kind": "invoice"},
		Context: map[string]interface{}{
			"check": map[string]interface{}{"passed": true, "score": float64(0.9)},
		},
	}
}

func TestEvaluateBooleanExpressions(t *testing.T) {
	e := NewGojaEvaluator(time.Second)

	tests := []struct {
		expression string
		want       bool
	}{
		{"true", true},
		{"false", false},
		{"trigger.priority > 3", true},
		{"trigger.kind === 'receipt'", false},
		{"context.check.passed && context.check.score > 0.5", true},
		{"trigger.priority > 3 ? trigger.kind === 'invoice' : false", true},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			compiled, err := e.Compile(tt.expression)
			require.NoError(t, err)

			got, err := compiled.Evaluate(context.Background(), evalContext())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileRejectsSyntaxErrors(t *testing.T) {
	e := NewGojaEvaluator(time.Second)

	_, err := e.Compile("trigger..kind ===")
	assert.Error(t, err)
}

func TestEvaluateMissingFieldIsError(t *testing.T) {
	e := NewGojaEvaluator(time.Second)

	compiled, err := e.Compile("trigger.missing.deeper === 1")
	require.NoError(t, err)

	// Accessing a property of undefined throws; the conductor maps this
	// to a false edge.
	_, err = compiled.Evaluate(context.Background(), evalContext())
	assert.Error(t, err)
}

func TestEvaluateTimesOut(t *testing.T) {
	e := NewGojaEvaluator(50 * time.Millisecond)

	compiled, err := e.Compile("(function(){ while(true){} })()")
	require.NoError(t, err)

	_, err = compiled.Evaluate(context.Background(), evalContext())
	assert.Error(t, err)
}

func TestEvaluateConcurrently(t *testing.T) {
	e := NewGojaEvaluator(time.Second)

	compiled, err := e.Compile("trigger.priority > 3")
	require.NoError(t, err)

	results := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		go func() {
			got, err := compiled.Evaluate(context.Background(), evalContext())
			results <- err == nil && got
		}()
	}
	for i := 0; i < 20; i++ {
		assert.True(t, <-results)
	}
}
