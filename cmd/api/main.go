package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowline-ai/flowline/internal/api"
	"github.com/flowline-ai/flowline/internal/domain/repositories"
	"github.com/flowline-ai/flowline/internal/domain/services"
	"github.com/flowline-ai/flowline/internal/engine/actions"
	"github.com/flowline-ai/flowline/internal/engine/condition"
	"github.com/flowline-ai/flowline/internal/engine/conductor"
	"github.com/flowline-ai/flowline/internal/engine/definition"
	"github.com/flowline-ai/flowline/internal/engine/lifecycle"
	"github.com/flowline-ai/flowline/internal/engine/planner"
	"github.com/flowline-ai/flowline/internal/engine/template"
	"github.com/flowline-ai/flowline/internal/engine/validation"
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
		Str("env", cfg.App.Environment).
		Msg("Starting API server")

	// Connect to database
	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	// Run migrations
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Connect to Redis
	redisClient, err := pkgredis.NewClient(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	// Initialize queue client
	queueClient := queue.NewClient(&cfg.Redis)
	defer queueClient.Close()

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

	engineSvc := &services.EngineService{
		Gateway:    gateway,
		Conductor:  cond,
		Plans:      planCache,
		Queue:      queueClient,
		RunTimeout: cfg.Engine.DefaultWorkflowTimeout,
	}

	cond.SetSubworkflows(&conductor.Coordinator{
		Gateway:        gateway,
		RunChild:       engineSvc.RunChild,
		MaxDepth:       cfg.Subworkflow.MaxNestingDepth,
		AllowRecursion: cfg.Subworkflow.AllowRecursion,
	})

	// Lifecycle manager
	manager := &lifecycle.Manager{
		Workflows:   gateway.Workflows,
		Definitions: gateway.Definitions,
		Plans:       gateway.Plans,
		Validator:   validation.NewPublishValidator(registry, templates, conditions),
		Planner:     plnr,
		Cache:       planCache,
		Broadcast: func(ctx context.Context, workflowID string) {
			if err := redisClient.PublishPlanInvalidation(ctx, workflowID); err != nil {
				log.Warn().Err(err).Str("workflow_id", workflowID).Msg("Failed to broadcast plan invalidation")
			}
		},
	}

	// Drop cached plans when another replica publishes
	go func() {
		if err := redisClient.SubscribePlanInvalidations(context.Background(), engineSvc.InvalidatePlans); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Plan invalidation subscription ended")
		}
	}()

	// Create server
	server := api.NewServer(cfg, &api.Deps{
		Engine:    engineSvc,
		Lifecycle: manager,
		Gateway:   gateway,
		Registry:  registry,
		Redis:     redisClient,
		DB:        db,
	})

	// Start server
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}
