package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/domain/repositories"
	"github.com/flowline-ai/flowline/internal/pkg/redis"
)

const reaperLockKey = "flowline:reaper:lock"

// Reaper fails executions whose runner died. A row stuck in Running past the
// threshold can never be re-acquired (the CAS only covers Pending), so the
// sweep closes it out and lets the caller retry with a fresh requestId.
type Reaper struct {
	Executions *repositories.ExecutionRepository
	Redis      *redis.Client
	Threshold  time.Duration

	cron *cron.Cron
	id   string
}

func NewReaper(executions *repositories.ExecutionRepository, redisClient *redis.Client, threshold time.Duration) *Reaper {
	if threshold <= 0 {
		threshold = 2 * time.Hour
	}
	return &Reaper{
		Executions: executions,
		Redis:      redisClient,
		Threshold:  threshold,
		id:         uuid.NewString(),
	}
}

// Start schedules the sweep every five minutes until Stop is called.
func (r *Reaper) Start() {
	r.cron = cron.New()
	r.cron.AddFunc("@every 5m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		r.Sweep(ctx)
	})
	r.cron.Start()
}

func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Sweep runs one pass. Only one replica sweeps at a time.
func (r *Reaper) Sweep(ctx context.Context) {
	if r.Redis != nil {
		acquired, err := r.Redis.AcquireLock(ctx, reaperLockKey, r.id, time.Minute)
		if err != nil || !acquired {
			return
		}
		defer r.Redis.ReleaseLock(ctx, reaperLockKey, r.id)
	}

	stale, err := r.Executions.FindStale(ctx, r.Threshold)
	if err != nil {
		log.Error().Err(err).Msg("stale execution sweep failed")
		return
	}

	for _, row := range stale {
		msg := "runner lost: execution exceeded the stale threshold"
		err := r.Executions.Complete(ctx, row.ID, models.ExecutionStatusFailed, row.ContextSnapshot, &msg)
		if err != nil {
			// Raced a runner that finished in the meantime.
			if models.IsStoreCode(err, models.CodeIllegalStateTransition) {
				continue
			}
			log.Error().Err(err).Str("execution_id", row.ID.String()).Msg("failed to reap execution")
			continue
		}
		log.Warn().
			Str("execution_id", row.ID.String()).
			Str("workflow_id", row.WorkflowID).
			Msg("reaped stale execution")
	}
}
