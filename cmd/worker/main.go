package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/flowline-ai/flowline/internal/domain/repositories"
	"github.com/flowline-ai/flowline/internal/domain/services"
	"github.com/flowline-ai/flowline/internal/engine/actions"
	"github.com/flowline-ai/flowline/internal/engine/condition"
	"github.com/flowline-ai/flowline/internal/engine/conductor"
	"github.com/flowline-ai/flowline/internal/engine/definition"
	"github.com/flowline-ai/flowline/internal/engine/planner"
	"github.com/flowline-ai/flowline/internal/engine/template"
	"github.com/flowline-ai/flowline/internal/pkg/archive"
	"github.com/flowline-ai/flowline/internal/pkg/config"
	"github.com/flowline-ai/flowline/internal/pkg/database"
	"github.com/flowline-ai/flowline/internal/pkg/httpclient"
	"github.com/flowline-ai/flowline/internal/pkg/logger"
	"github.com/flowline-ai/flowline/internal/pkg/queue"
	pkgredis "github.com/flowline-ai/flowline/internal/pkg/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	logger.Init(cfg.App.Environment, cfg.App.Debug)

	log.Info().
		Str("app", cfg.App.Name).
		Str("service", "worker").
		Msg("Starting worker service")

	// Connect to database
	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	// Connect to Redis
	redisClient, err := pkgredis.NewClient(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	// Persistence gateway
	gateway := repositories.NewGateway(db, cfg.Catalog.AllowDraftExecution)
	gateway.EventSink = redisClient

	// Expression runtimes
	templates := template.NewExprEvaluator(cfg.Engine.TemplateTimeout)
	conditions := condition.NewGojaEvaluator(cfg.Engine.ConditionTimeout)

	// Action catalog
	registry := actions.NewRegistry(actions.NewRemoteInvoker(httpclient.Default(), 0, 0))
	if err := actions.RegisterBuiltins(registry); err != nil {
		log.Fatal().Err(err).Msg("Failed to register built-in actions")
	}
	if cfg.Catalog.AutoRegisterActionsOnStartup && len(cfg.Connectors) > 0 {
		connectors := make(map[string]string, len(cfg.Connectors))
		for id, c := range cfg.Connectors {
			connectors[id] = c.URL
		}
		discoverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		actions.DiscoverConnectors(discoverCtx, registry, httpclient.Default(), connectors)
		cancel()
	}

	// Planner and plan cache
	plnr := &planner.Planner{
		Templates:  templates,
		Conditions: conditions,
		Defaults: planner.Defaults{
			Retry: definition.RetryPolicy{
				MaxAttempts:   cfg.Retry.MaxRetryAttempts,
				BaseDelayMs:   int(cfg.Retry.InitialDelay / time.Millisecond),
				BackoffFactor: cfg.Retry.BackoffFactor,
				Jitter:        cfg.Retry.Jitter,
			},
			NodeTimeout: cfg.Engine.DefaultActionTimeout,
		},
	}
	planCache := planner.NewCache(plnr)

	// Conductor
	cond := conductor.New(gateway, registry, templates, conditions, conductor.Options{
		MaxParallelActions: cfg.Engine.MaxParallelActions,
		WorkflowTimeout:    cfg.Engine.DefaultWorkflowTimeout,
		Snapshot:           cfg.Snapshot,
	})

	// Workers run fetched tasks inline; no queue client means sub-workflows
	// execute in-process on the parent's runner.
	engineSvc := &services.EngineService{
		Gateway:    gateway,
		Conductor:  cond,
		Plans:      planCache,
		RunTimeout: cfg.Engine.DefaultWorkflowTimeout,
	}

	// Snapshot offload to object storage
	if cfg.Archive.Enabled {
		archiver, err := archive.NewS3Archiver(context.Background(), &cfg.Archive)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize snapshot archiver")
		}
		engineSvc.Archiver = archiver
	}

	cond.SetSubworkflows(&conductor.Coordinator{
		Gateway:        gateway,
		RunChild:       engineSvc.RunChild,
		MaxDepth:       cfg.Subworkflow.MaxNestingDepth,
		AllowRecursion: cfg.Subworkflow.AllowRecursion,
	})

	// Drop cached plans when a publish lands on another replica
	go func() {
		if err := redisClient.SubscribePlanInvalidations(context.Background(), engineSvc.InvalidatePlans); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Plan invalidation subscription ended")
		}
	}()

	// Stale execution reaper; the redis lock keeps it single-flight across
	// worker replicas
	reaper := services.NewReaper(gateway.Executions, redisClient, 0)
	reaper.Start()
	defer reaper.Stop()

	// Queue server
	srv := queue.NewServer(&cfg.Redis, &cfg.Queue)
	srv.HandleFunc(queue.TypeExecutionRun, func(ctx context.Context, task *asynq.Task) error {
		var payload queue.ExecutionRunPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("malformed task payload: %v: %w", err, asynq.SkipRetry)
		}

		status, err := engineSvc.Run(ctx, payload.ExecutionID)
		if err != nil {
			return err
		}
		log.Info().
			Str("execution_id", payload.ExecutionID.String()).
			Str("workflow_id", payload.WorkflowID).
			Str("status", status).
			Msg("Execution finished")
		return nil
	})

	// Start worker
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Worker error")
	}

	// Wait for shutdown; Shutdown drains in-flight tasks before returning
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down worker...")
	srv.Shutdown()
}
