package validation

import (
	"fmt"

	"github.com/flowline-ai/flowline/internal/engine/definition"
)

// Catalog answers whether an action type can currently be executed.
type Catalog interface {
	IsAvailable(actionType string) bool
}

// TemplateCompiler syntax-checks a parameter template tree.
type TemplateCompiler interface {
	CompileTemplate(params map[string]interface{}) error
}

// ConditionCompiler syntax-checks an edge condition expression.
type ConditionCompiler interface {
	CompileCondition(expression string) error
}

// DryRenderer optionally renders a template tree against an empty context;
// failures are reported as warnings, not errors.
type DryRenderer interface {
	DryRender(params map[string]interface{}) error
}

// PublishValidator composes the static graph checks with catalog availability
// and template/condition precompilation. Publishing refuses on any error.
type PublishValidator struct {
	Catalog    Catalog
	Templates  TemplateCompiler
	Conditions ConditionCompiler
	Renderer   DryRenderer
}

// PublishResult is what the lifecycle manager decides on.
type PublishResult struct {
	IsValid  bool    `json:"is_valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

func (v *PublishValidator) Validate(def *definition.Definition) *PublishResult {
	static := ValidateStatic(def)

	result := &PublishResult{
		Errors:   static.Errors,
		Warnings: static.Warnings,
	}

	for i, node := range def.Nodes {
		if node.NodeType == definition.NodeTypeAction && v.Catalog != nil {
			if !v.Catalog.IsAvailable(node.ActionType) {
				result.Errors = append(result.Errors, Issue{
					NodeID:  node.ID,
					Path:    fmt.Sprintf("nodes[%d].actionType", i),
					Code:    "ACTION_NOT_AVAILABLE",
					Message: fmt.Sprintf("action type %q is not registered or is disabled", node.ActionType),
				})
			}
		}

		if v.Templates != nil && len(node.Parameters) > 0 {
			if err := v.Templates.CompileTemplate(node.Parameters); err != nil {
				result.Errors = append(result.Errors, Issue{
					NodeID:  node.ID,
					Path:    fmt.Sprintf("nodes[%d].parameters", i),
					Code:    "TEMPLATE_COMPILE_ERROR",
					Message: err.Error(),
				})
			} else if v.Renderer != nil {
				if err := v.Renderer.DryRender(node.Parameters); err != nil {
					result.Warnings = append(result.Warnings, Issue{
						NodeID:  node.ID,
						Path:    fmt.Sprintf("nodes[%d].parameters", i),
						Code:    "TEMPLATE_DRY_RENDER",
						Message: err.Error(),
					})
				}
			}
		}

		if v.Conditions != nil {
			for j, edge := range node.Edges {
				if edge.Condition == "" {
					continue
				}
				if err := v.Conditions.CompileCondition(edge.Condition); err != nil {
					result.Errors = append(result.Errors, Issue{
						NodeID:  node.ID,
						Path:    fmt.Sprintf("nodes[%d].edges[%d].condition", i, j),
						Code:    "CONDITION_COMPILE_ERROR",
						Message: err.Error(),
					})
				}
			}
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}
