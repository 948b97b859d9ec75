package conductor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/engine/actions"
	"github.com/flowline-ai/flowline/internal/engine/condition"
	"github.com/flowline-ai/flowline/internal/engine/planner"
	"github.com/flowline-ai/flowline/internal/engine/runtime"
	"github.com/flowline-ai/flowline/internal/engine/template"
	"github.com/flowline-ai/flowline/internal/pkg/config"
	"github.com/flowline-ai/flowline/internal/pkg/logger"
	"github.com/flowline-ai/flowline/internal/pkg/metrics"
)

// ErrAlreadyRunning is returned when another runner holds the execution.
var ErrAlreadyRunning = fmt.Errorf("execution is already running on another runner")

// Why the workflow cancel scope was triggered.
const (
	causeNone int32 = iota
	causeNodeFailure
	causeExternal
)

// Conductor drives workflow executions: event-driven node scheduling on join
// counters, bounded parallelism through a process-wide permit pool, per-node
// retry and timeout, and fail-fast cancellation. One Conductor serves every
// execution in the process; the permit pool is shared across them all.
type Conductor struct {
	gateway    Gateway
	registry   *actions.Registry
	templates  template.Evaluator
	conditions condition.Evaluator
	children   Subworkflows
	snapshot   config.SnapshotConfig
	timeout    time.Duration
	permits    chan struct{}
}

type Options struct {
	MaxParallelActions int
	WorkflowTimeout    time.Duration
	Snapshot           config.SnapshotConfig
}

func New(gateway Gateway, registry *actions.Registry, templates template.Evaluator, conditions condition.Evaluator, opts Options) *Conductor {
	if opts.MaxParallelActions <= 0 {
		opts.MaxParallelActions = 10
	}
	if opts.WorkflowTimeout <= 0 {
		opts.WorkflowTimeout = time.Hour
	}
	if opts.Snapshot.Mode == "" {
		opts.Snapshot.Mode = config.SnapshotModeFull
	}
	return &Conductor{
		gateway:    gateway,
		registry:   registry,
		templates:  templates,
		conditions: conditions,
		snapshot:   opts.Snapshot,
		timeout:    opts.WorkflowTimeout,
		permits:    make(chan struct{}, opts.MaxParallelActions),
	}
}

// SetSubworkflows wires the child coordinator. Set once at startup; the
// coordinator itself needs the conductor to run children, hence the setter.
func (c *Conductor) SetSubworkflows(children Subworkflows) {
	c.children = children
}

// ExecuteRequest identifies one run of one compiled plan.
type ExecuteRequest struct {
	ExecutionID   uuid.UUID
	Plan          *planner.Plan
	Trigger       map[string]interface{}
	Vars          map[string]interface{}
	Principal     *models.Principal
	TenantID      *string
	CorrelationID string

	// Sub-workflow bookkeeping; zero values for a root execution.
	Depth     int
	Ancestors []string
}

// Execute runs the plan to a terminal status. Re-entry on an already-terminal
// execution returns that status without rerunning. Exactly one runner across
// replicas executes a given row; the rest get ErrAlreadyRunning.
func (c *Conductor) Execute(ctx context.Context, req *ExecuteRequest) (string, error) {
	row, err := c.gateway.GetExecution(ctx, req.ExecutionID)
	if err != nil {
		return "", err
	}
	if models.IsTerminalExecutionStatus(row.Status) {
		return row.Status, nil
	}

	acquired, err := c.gateway.TryAcquireExecution(ctx, req.ExecutionID)
	if err != nil {
		return "", err
	}
	if !acquired {
		row, err = c.gateway.GetExecution(ctx, req.ExecutionID)
		if err != nil {
			return "", err
		}
		if models.IsTerminalExecutionStatus(row.Status) {
			return row.Status, nil
		}
		return "", ErrAlreadyRunning
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	e := &execution{
		c:             c,
		id:            req.ExecutionID,
		plan:          req.Plan,
		rctx:          runtime.NewContext(req.Trigger, req.Vars),
		principal:     req.Principal,
		tenantID:      req.TenantID,
		correlationID: req.CorrelationID,
		depth:         req.Depth,
		ancestors:     req.Ancestors,
		ctx:           runCtx,
		cancelFn:      cancel,
		persistCtx:    context.WithoutCancel(ctx),
		pending:       make(map[string]int, len(req.Plan.ExpectedIncoming)),
		satisfied:     make(map[string]int, len(req.Plan.ExpectedIncoming)),
		scheduled:     make(map[string]bool, len(req.Plan.Nodes)),
		dead:          make(map[string]bool),
		log: logger.WithExecutionID(req.ExecutionID.String()).With().
			Str("workflow_id", req.Plan.WorkflowID).
			Str("correlation_id", req.CorrelationID).Logger(),
	}
	for nodeID, count := range req.Plan.ExpectedIncoming {
		e.pending[nodeID] = count
	}

	metrics.WorkflowExecutionsInProgress.Inc()
	defer metrics.WorkflowExecutionsInProgress.Dec()
	startedAt := time.Now()
	e.log.Info().Int("nodes", len(req.Plan.Nodes)).Msg("execution started")

	e.schedule(req.Plan.Start)
	e.wg.Wait()

	status := e.finalStatus()
	errMsg := e.failureMessage()

	snapshot, _, snapErr := e.rctx.Snapshot(&c.snapshot)
	if snapErr != nil {
		e.log.Error().Err(snapErr).Msg("context snapshot failed")
		msg := snapErr.Error()
		if errMsg == nil {
			errMsg = &msg
		}
		snapshot = nil
	}

	if err := c.gateway.CompleteExecution(e.persistCtx, req.ExecutionID, status, models.JSON(snapshot), errMsg); err != nil {
		return status, fmt.Errorf("failed to complete execution: %w", err)
	}

	metrics.RecordWorkflowExecution(req.Plan.WorkflowID, status, time.Since(startedAt).Seconds())
	e.log.Info().Str("status", status).Dur("took", time.Since(startedAt)).Msg("execution finished")
	return status, nil
}

// execution is the mutable state of one in-flight run.
type execution struct {
	c             *Conductor
	id            uuid.UUID
	plan          *planner.Plan
	rctx          *runtime.Context
	principal     *models.Principal
	tenantID      *string
	correlationID string
	depth         int
	ancestors     []string

	ctx        context.Context
	cancelFn   context.CancelFunc
	persistCtx context.Context
	log        zerolog.Logger

	wg sync.WaitGroup

	mu        sync.Mutex
	pending   map[string]int
	satisfied map[string]int
	scheduled map[string]bool
	dead      map[string]bool
	failure   string

	cancelCause atomic.Int32
}

func (e *execution) finalStatus() string {
	cause := e.cancelCause.Load()
	if cause == causeNone && e.ctx.Err() != nil {
		cause = causeExternal
	}
	switch cause {
	case causeNodeFailure:
		return models.ExecutionStatusFailed
	case causeExternal:
		return models.ExecutionStatusCancelled
	default:
		return models.ExecutionStatusSucceeded
	}
}

func (e *execution) failureMessage() *string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failure == "" {
		return nil
	}
	msg := e.failure
	return &msg
}

func (e *execution) cancelled() bool {
	return e.cancelCause.Load() != causeNone || e.ctx.Err() != nil
}

// triggerCancel flips the workflow cancel flag once and tears down the run
// scope; later causes lose.
func (e *execution) triggerCancel(cause int32) {
	if e.cancelCause.CompareAndSwap(causeNone, cause) {
		e.log.Warn().Int32("cause", cause).Msg("workflow cancellation triggered")
		e.cancelFn()
	}
}

func (e *execution) noteFailure(nodeID, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failure == "" {
		e.failure = fmt.Sprintf("node %s: %s", nodeID, message)
	}
}
