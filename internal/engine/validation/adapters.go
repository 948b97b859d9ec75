package validation

import (
	"github.com/flowline-ai/flowline/internal/engine/condition"
	"github.com/flowline-ai/flowline/internal/engine/template"
)

// NewPublishValidator wires the runtime evaluators into the publish-time
// compiler contracts. The template evaluator doubles as the dry renderer when
// it supports it.
func NewPublishValidator(catalog Catalog, templates template.Evaluator, conditions condition.Evaluator) *PublishValidator {
	v := &PublishValidator{
		Catalog:    catalog,
		Templates:  templateAdapter{templates},
		Conditions: conditionAdapter{conditions},
	}
	if renderer, ok := templates.(DryRenderer); ok {
		v.Renderer = renderer
	}
	return v
}

type templateAdapter struct{ ev template.Evaluator }

func (a templateAdapter) CompileTemplate(params map[string]interface{}) error {
	return a.ev.Compile(params)
}

type conditionAdapter struct{ ev condition.Evaluator }

func (a conditionAdapter) CompileCondition(expression string) error {
	_, err := a.ev.Compile(expression)
	return err
}
