package queue

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/flowline-ai/flowline/internal/pkg/config"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(redisCfg *config.RedisConfig, queueCfg *config.QueueConfig) *Server {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisCfg.Addr(),
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		},
		asynq.Config{
			Concurrency: queueCfg.Concurrency,
			Queues:      queueCfg.Queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := "unknown"
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				log.Error().
					Str("task_type", task.Type()).
					Str("task_id", taskID).
					Err(err).
					Msg("Task failed")
			}),
			Logger: &asynqLogger{},
		},
	)

	return &Server{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

func (s *Server) HandleFunc(pattern string, handler func(context.Context, *asynq.Task) error) {
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) Start() error {
	log.Info().Msg("Starting queue server...")
	return s.server.Start(s.mux)
}

func (s *Server) Shutdown() {
	log.Info().Msg("Shutting down queue server...")
	s.server.Shutdown()
}

// asynqLogger bridges asynq's logger to zerolog.
type asynqLogger struct{}

func (l *asynqLogger) Debug(args ...interface{}) { log.Debug().Msgf("%v", args) }
func (l *asynqLogger) Info(args ...interface{})  { log.Info().Msgf("%v", args) }
func (l *asynqLogger) Warn(args ...interface{})  { log.Warn().Msgf("%v", args) }
func (l *asynqLogger) Error(args ...interface{}) { log.Error().Msgf("%v", args) }
func (l *asynqLogger) Fatal(args ...interface{}) { log.Fatal().Msgf("%v", args) }
