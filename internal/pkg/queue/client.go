package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/flowline-ai/flowline/internal/pkg/config"
)

// Task types.
const (
	TypeExecutionRun = "execution:run"
)

// Queue names, by weight.
const (
	QueueExecutions = "executions"
	QueueDefault    = "default"
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg *config.RedisConfig) *Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// ExecutionRunPayload points a worker at a persisted Pending execution. The
// trigger and plan are loaded from the database, not carried on the task, so
// a retried task always sees current state.
type ExecutionRunPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	Version     int       `json:"version"`
}

// EnqueueExecutionRun hands a Pending execution to the worker pool. The
// try-acquire CAS makes duplicate deliveries harmless, so asynq-level retry
// is generous. An empty queue name lands on the executions queue.
func (c *Client) EnqueueExecutionRun(ctx context.Context, payload ExecutionRunPayload, queueName string, timeout time.Duration) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	if queueName == "" {
		queueName = QueueExecutions
	}
	task := asynq.NewTask(TypeExecutionRun, data,
		asynq.Queue(queueName),
		asynq.MaxRetry(5),
		asynq.Timeout(timeout),
		asynq.Retention(24*time.Hour),
	)
	return c.client.EnqueueContext(ctx, task)
}
