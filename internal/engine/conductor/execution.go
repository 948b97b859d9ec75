package conductor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/engine/actions"
	"github.com/flowline-ai/flowline/internal/engine/condition"
	"github.com/flowline-ai/flowline/internal/engine/definition"
	"github.com/flowline-ai/flowline/internal/engine/planner"
	"github.com/flowline-ai/flowline/internal/engine/template"
	"github.com/flowline-ai/flowline/internal/pkg/metrics"
)

// schedule spawns the node task exactly once.
func (e *execution) schedule(nodeID string) {
	e.mu.Lock()
	if e.scheduled[nodeID] {
		e.mu.Unlock()
		return
	}
	e.scheduled[nodeID] = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.runNode(nodeID)
}

func (e *execution) runNode(nodeID string) {
	defer e.wg.Done()

	desc := e.plan.Nodes[nodeID]
	status, errMsg := e.executeNode(desc)

	switch status {
	case models.ActionStatusSucceeded, models.ActionStatusFailed:
		outcomes, anySatisfied := e.evaluateEdges(desc, status)
		if status == models.ActionStatusFailed && !anySatisfied {
			// No failure or always edge consumed the failure: it is
			// unhandled and tears the workflow down.
			e.noteFailure(nodeID, errMsg)
			e.triggerCancel(causeNodeFailure)
		}
		for _, o := range outcomes {
			e.resolveEdge(o.target, o.satisfied)
		}

	default: // skipped: no outgoing edge activates
		for _, edge := range e.plan.Adjacency[nodeID] {
			e.resolveEdge(edge.Target, false)
		}
	}
}

// resolveEdge consumes one incoming edge of target. The call that drops the
// pending count to zero decides the target's fate: schedule it when at least
// one edge was satisfied, otherwise declare it dead and cascade.
func (e *execution) resolveEdge(target string, satisfied bool) {
	e.mu.Lock()
	e.pending[target]--
	if satisfied {
		e.satisfied[target]++
	}
	remaining := e.pending[target]
	sat := e.satisfied[target]
	e.mu.Unlock()

	if remaining > 0 {
		return
	}
	if sat > 0 {
		e.schedule(target)
		return
	}
	e.markDead(target)
}

// markDead handles a node none of whose incoming edges fired. In normal flow
// (a condition routed elsewhere) the node leaves no trace; under cancellation
// it is recorded Skipped so the run's history shows it was never reached.
func (e *execution) markDead(nodeID string) {
	e.mu.Lock()
	if e.dead[nodeID] {
		e.mu.Unlock()
		return
	}
	e.dead[nodeID] = true
	e.mu.Unlock()

	if e.cancelled() {
		e.recordSkip(e.plan.Nodes[nodeID], 1, "unreachable after workflow cancellation")
	}
	for _, edge := range e.plan.Adjacency[nodeID] {
		e.resolveEdge(edge.Target, false)
	}
}

type edgeOutcome struct {
	target    string
	satisfied bool
}

// evaluateEdges decides every outgoing edge of a finished node without
// applying the outcomes, so the caller can flip the cancel flag before any
// downstream node resolves. Returns whether any edge was satisfied.
func (e *execution) evaluateEdges(desc *planner.NodeDescriptor, status string) ([]edgeOutcome, bool) {
	edges := e.plan.Adjacency[desc.ID]
	outcomes := make([]edgeOutcome, 0, len(edges))
	matched := false

	for _, edge := range edges {
		if matched && desc.RoutePolicy == definition.RouteFirstMatch {
			outcomes = append(outcomes, edgeOutcome{target: edge.Target})
			continue
		}

		ok := whenMatches(edge.When, status)
		if ok && edge.Condition != nil {
			value, err := edge.Condition.Evaluate(e.ctx, &condition.Context{
				Trigger: e.rctx.Trigger,
				Context: e.rctx.Outputs(),
			})
			if err != nil {
				// Evaluator errors route as false, never fail the workflow.
				value = false
				e.log.Warn().Err(err).Str("node_id", desc.ID).Str("target", edge.Target).
					Msg("edge condition evaluation failed")
				e.recordEvent("warn", "condition", models.JSON{
					"node_id":   desc.ID,
					"target":    edge.Target,
					"condition": edge.ConditionSrc,
					"error":     err.Error(),
				})
			}
			ok = value
		}

		if ok {
			matched = true
		}
		outcomes = append(outcomes, edgeOutcome{target: edge.Target, satisfied: ok})
	}
	return outcomes, matched
}

func whenMatches(when, status string) bool {
	switch when {
	case definition.WhenSuccess:
		return status == models.ActionStatusSucceeded
	case definition.WhenFailure:
		return status == models.ActionStatusFailed
	case definition.WhenAlways:
		return status == models.ActionStatusSucceeded || status == models.ActionStatusFailed
	}
	return false
}

// executeNode runs the attempt loop to a terminal node status.
func (e *execution) executeNode(desc *planner.NodeDescriptor) (string, string) {
	var rendered map[string]interface{}
	attempt := 1

	for {
		permitWait := time.Now()
		select {
		case <-e.ctx.Done():
			e.recordSkip(desc, attempt, "workflow cancelled before node start")
			return models.ActionStatusSkipped, ""
		case e.c.permits <- struct{}{}:
		}
		metrics.PermitWaitDuration.Observe(time.Since(permitWait).Seconds())

		started := time.Now()
		attemptID := uuid.New()

		if rendered == nil || desc.RerenderOnRetry {
			r, err := e.c.templates.Render(e.ctx, desc.Parameters, &template.Context{
				Trigger: e.rctx.Trigger,
				Context: e.rctx.Outputs(),
				Vars:    e.rctx.Vars,
			})
			if err != nil {
				// A render failure follows the node's retry policy like any
				// retriable action failure.
				<-e.c.permits
				msg := fmt.Sprintf("parameter rendering failed: %v", err)
				e.recordAttempt(attemptID, desc, attempt, models.ActionStatusRetriableFailure, nil, nil, msg, started)
				if attempt >= desc.Retry.MaxAttempts {
					return models.ActionStatusFailed, fmt.Sprintf("%s (after %d attempts)", msg, attempt)
				}
				delay := backoffDelay(desc.Retry, attempt)
				e.log.Debug().Str("node_id", desc.ID).Int("attempt", attempt).Dur("backoff", delay).
					Msg("retrying after backoff")
				select {
				case <-e.ctx.Done():
					e.recordSkip(desc, attempt+1, "workflow cancelled during retry backoff")
					return models.ActionStatusSkipped, ""
				case <-time.After(delay):
				}
				attempt++
				continue
			}
			rendered = r
		}

		var result *actions.Result
		if desc.Kind == definition.NodeTypeSubworkflow {
			// Child nodes draw from the same permit pool; holding ours
			// across the child run would deadlock under nesting.
			<-e.c.permits
			result = e.runSubworkflow(desc, attempt, rendered)
		} else {
			result = e.invokeAction(desc, rendered)
			<-e.c.permits
		}

		switch result.Status {
		case actions.StatusSucceeded:
			if err := e.linkResources(attemptID, result); err != nil {
				msg := fmt.Sprintf("resource link rejected: %v", err)
				e.recordAttempt(attemptID, desc, attempt, models.ActionStatusFailed, rendered, result.Outputs, msg, started)
				return models.ActionStatusFailed, msg
			}
			e.recordAttempt(attemptID, desc, attempt, models.ActionStatusSucceeded, rendered, result.Outputs, "", started)
			e.rctx.SetOutput(desc.ID, result.Outputs)
			return models.ActionStatusSucceeded, ""

		case actions.StatusRetriableFailure:
			e.recordAttempt(attemptID, desc, attempt, models.ActionStatusRetriableFailure, rendered, result.Outputs, result.ErrorMessage, started)
			if attempt >= desc.Retry.MaxAttempts {
				return models.ActionStatusFailed, fmt.Sprintf("%s (after %d attempts)", result.ErrorMessage, attempt)
			}
			delay := backoffDelay(desc.Retry, attempt)
			e.log.Debug().Str("node_id", desc.ID).Int("attempt", attempt).Dur("backoff", delay).
				Msg("retrying after backoff")
			select {
			case <-e.ctx.Done():
				e.recordSkip(desc, attempt+1, "workflow cancelled during retry backoff")
				return models.ActionStatusSkipped, ""
			case <-time.After(delay):
			}
			attempt++

		case actions.StatusSkipped:
			e.recordAttempt(attemptID, desc, attempt, models.ActionStatusSkipped, rendered, nil, result.ErrorMessage, started)
			return models.ActionStatusSkipped, ""

		default:
			e.recordAttempt(attemptID, desc, attempt, models.ActionStatusFailed, rendered, result.Outputs, result.ErrorMessage, started)
			return models.ActionStatusFailed, result.ErrorMessage
		}
	}
}

// invokeAction calls the registry under a linked cancel: workflow scope plus
// the per-node timeout.
func (e *execution) invokeAction(desc *planner.NodeDescriptor, rendered map[string]interface{}) *actions.Result {
	invCtx, cancel := context.WithTimeout(e.ctx, desc.Timeout)
	defer cancel()

	result, err := e.c.registry.Invoke(invCtx, desc.ActionType, &actions.Invocation{
		ExecutionID:   e.id,
		WorkflowID:    e.plan.WorkflowID,
		NodeID:        desc.ID,
		CorrelationID: e.correlationID,
		Principal:     e.principal,
		Parameters:    rendered,
	})
	if err != nil {
		if e.ctx.Err() != nil {
			return actions.Skipped("workflow cancelled during invocation")
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// A timeout fails the node permanently; slow work is not retried.
			return actions.Failed("node timed out after %s", desc.Timeout)
		}
		if errors.Is(err, actions.ErrNotFound) {
			return actions.Failed("action %q is not registered", desc.ActionType)
		}
		return actions.Retriable("invocation error: %v", err)
	}
	return result
}

// linkResources claims every resource the action reported before the attempt
// row is written. A tuple owned by another execution is a permanent failure.
func (e *execution) linkResources(attemptID uuid.UUID, result *actions.Result) error {
	for _, link := range result.ResourceLinks {
		var url *string
		if link.URL != "" {
			u := link.URL
			url = &u
		}
		outcome, err := e.c.gateway.LinkExternalResource(e.persistCtx, e.id, &attemptID, link.System, link.Type, link.ID, url)
		if err != nil {
			return err
		}
		if outcome == LinkExistsSameExecution {
			e.log.Debug().Str("system", link.System).Str("resource_id", link.ID).
				Msg("resource already linked to this execution")
		}
	}
	return nil
}

func (e *execution) recordAttempt(attemptID uuid.UUID, desc *planner.NodeDescriptor, attempt int, status string, params, outputs map[string]interface{}, errMsg string, started time.Time) {
	completed := time.Now()
	row := &models.ActionExecution{
		ID:          attemptID,
		ExecutionID: e.id,
		NodeID:      desc.ID,
		ActionType:  e.attemptActionType(desc),
		Status:      status,
		Attempt:     attempt,
		RetryCount:  attempt - 1,
		Parameters:  models.JSON(params),
		Outputs:     models.JSON(outputs),
		StartedAt:   &started,
		CompletedAt: &completed,
	}
	if errMsg != "" {
		row.Error = models.JSON{"message": errMsg}
	}
	if err := e.c.gateway.RecordAttempt(e.persistCtx, row); err != nil {
		e.log.Error().Err(err).Str("node_id", desc.ID).Int("attempt", attempt).
			Msg("failed to persist attempt")
	}
	metrics.RecordActionAttempt(row.ActionType, status, completed.Sub(started).Seconds())
}

// recordSkip writes a Skipped attempt row for a node that never ran to
// completion under this scope.
func (e *execution) recordSkip(desc *planner.NodeDescriptor, attempt int, reason string) {
	now := time.Now()
	row := &models.ActionExecution{
		ID:          uuid.New(),
		ExecutionID: e.id,
		NodeID:      desc.ID,
		ActionType:  e.attemptActionType(desc),
		Status:      models.ActionStatusSkipped,
		Attempt:     attempt,
		RetryCount:  attempt - 1,
		Error:       models.JSON{"message": reason},
		StartedAt:   &now,
		CompletedAt: &now,
	}
	if err := e.c.gateway.RecordAttempt(e.persistCtx, row); err != nil {
		e.log.Error().Err(err).Str("node_id", desc.ID).Msg("failed to persist skip")
	}
	metrics.RecordActionAttempt(row.ActionType, models.ActionStatusSkipped, 0)
}

func (e *execution) attemptActionType(desc *planner.NodeDescriptor) string {
	if desc.Kind == definition.NodeTypeSubworkflow {
		return "subworkflow:" + desc.WorkflowID
	}
	return desc.ActionType
}

func (e *execution) recordEvent(level, category string, payload models.JSON) {
	err := e.c.gateway.RecordEvent(e.persistCtx, &models.ExecutionEvent{
		ExecutionID: e.id,
		Level:       level,
		Category:    category,
		Payload:     payload,
		Timestamp:   time.Now(),
	})
	if err != nil {
		e.log.Warn().Err(err).Str("category", category).Msg("failed to record event")
	}
}

// backoffDelay is baseDelay * factor^(attempt-1), with optional jitter in
// [delay/2, delay).
func backoffDelay(retry definition.RetryPolicy, attempt int) time.Duration {
	delay := float64(retry.BaseDelay()) * math.Pow(retry.BackoffFactor, float64(attempt-1))
	if retry.Jitter {
		delay = delay/2 + rand.Float64()*delay/2
	}
	return time.Duration(delay)
}
