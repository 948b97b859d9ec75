package definition

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var workflowIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ParseError is a schema-level failure with the JSON path that caused it.
type ParseError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ParseErrors aggregates every schema violation found in one pass.
type ParseErrors []ParseError

func (e ParseErrors) Error() string {
	msgs := make([]string, len(e))
	for i, pe := range e {
		msgs[i] = pe.Error()
	}
	return strings.Join(msgs, "; ")
}

// Parse decodes workflow JSON into a normalized Definition. It performs
// schema-level checks only; graph structure is the validator's job.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, ParseErrors{{Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}
	if errs := normalize(&def); len(errs) > 0 {
		return nil, errs
	}
	return &def, nil
}

// ParseMap decodes an already-unmarshalled JSON object, as stored in the
// definition_json column.
func ParseMap(m map[string]interface{}) (*Definition, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, ParseErrors{{Message: fmt.Sprintf("invalid definition document: %v", err)}}
	}
	return Parse(data)
}

func normalize(def *Definition) ParseErrors {
	var errs ParseErrors

	if def.ID == "" {
		errs = append(errs, ParseError{Path: "id", Message: "id is required"})
	} else if !workflowIDPattern.MatchString(def.ID) {
		errs = append(errs, ParseError{Path: "id", Message: "id must match ^[a-z0-9-]+$"})
	}
	if def.DisplayName == "" {
		errs = append(errs, ParseError{Path: "displayName", Message: "displayName is required"})
	}
	if def.StartNode == "" {
		errs = append(errs, ParseError{Path: "startNode", Message: "startNode is required"})
	}
	if len(def.Nodes) == 0 {
		errs = append(errs, ParseError{Path: "nodes", Message: "workflow must have at least one node"})
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)

		if node.ID == "" {
			errs = append(errs, ParseError{Path: path + ".id", Message: "node id is required"})
		}

		switch node.NodeType {
		case "":
			node.NodeType = NodeTypeAction
		case NodeTypeAction, NodeTypeSubworkflow:
		default:
			errs = append(errs, ParseError{
				Path:    path + ".nodeType",
				Message: fmt.Sprintf("unknown nodeType %q", node.NodeType),
			})
		}

		if node.NodeType == NodeTypeAction && node.ActionType == "" {
			errs = append(errs, ParseError{Path: path + ".actionType", Message: "actionType is required for action nodes"})
		}
		if node.NodeType == NodeTypeSubworkflow && node.WorkflowID == "" {
			errs = append(errs, ParseError{Path: path + ".workflowId", Message: "workflowId is required for subworkflow nodes"})
		}

		switch node.RoutePolicy {
		case "":
			node.RoutePolicy = RouteParallel
		case RouteParallel, RouteFirstMatch:
		default:
			errs = append(errs, ParseError{
				Path:    path + ".routePolicy",
				Message: fmt.Sprintf("unknown routePolicy %q", node.RoutePolicy),
			})
		}

		if node.Parameters == nil {
			node.Parameters = make(map[string]interface{})
		}
		if node.Edges == nil {
			node.Edges = []Edge{}
		}

		for j := range node.Edges {
			edge := &node.Edges[j]
			edgePath := fmt.Sprintf("%s.edges[%d]", path, j)

			if edge.TargetNode == "" {
				errs = append(errs, ParseError{Path: edgePath + ".targetNode", Message: "targetNode is required"})
			}
			switch edge.When {
			case "":
				edge.When = WhenSuccess
			case WhenSuccess, WhenFailure, WhenAlways:
			default:
				errs = append(errs, ParseError{
					Path:    edgePath + ".when",
					Message: fmt.Sprintf("when must be one of success, failure, always; got %q", edge.When),
				})
			}
		}

		if retry := node.Policies.Retry; retry != nil {
			retryPath := path + ".policies.retry"
			if retry.MaxAttempts < 0 {
				errs = append(errs, ParseError{Path: retryPath + ".maxAttempts", Message: "maxAttempts must not be negative"})
			}
			if retry.BaseDelayMs < 0 {
				errs = append(errs, ParseError{Path: retryPath + ".baseDelayMs", Message: "baseDelayMs must not be negative"})
			}
			if retry.BackoffFactor != 0 && retry.BackoffFactor < 1 {
				errs = append(errs, ParseError{Path: retryPath + ".backoffFactor", Message: "backoffFactor must be >= 1"})
			}
		}
	}

	return errs
}
