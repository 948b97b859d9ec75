package websocket

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Subscriber bridges the Redis execution event channels into the hub so
// events raised on any replica reach every watcher.
type Subscriber struct {
	redisClient *redis.Client
	hub         *Hub
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewSubscriber(redisClient *redis.Client, hub *Hub) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		redisClient: redisClient,
		hub:         hub,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Subscriber) Start() {
	s.wg.Add(1)
	go s.subscribeToEvents()
}

func (s *Subscriber) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Subscriber) subscribeToEvents() {
	defer s.wg.Done()

	pubsub := s.redisClient.PSubscribe(s.ctx, "flowline:executions:*:events")
	defer pubsub.Close()

	ch := pubsub.Channel()

	log.Info().Msg("WebSocket subscriber started")

	for {
		select {
		case <-s.ctx.Done():
			log.Info().Msg("WebSocket subscriber stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleMessage(msg)
		}
	}
}

func (s *Subscriber) handleMessage(msg *redis.Message) {
	executionID, ok := parseExecutionChannel(msg.Channel)
	if !ok {
		log.Error().Str("channel", msg.Channel).Msg("Failed to parse execution channel")
		return
	}
	if !s.hub.HasWatchers(executionID) {
		return
	}
	s.hub.SendToExecution(executionID, []byte(msg.Payload))
}

// parseExecutionChannel extracts the id from flowline:executions:{id}:events.
func parseExecutionChannel(channel string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(channel, "flowline:executions:")
	if !ok {
		return uuid.Nil, false
	}
	rest, ok = strings.CutSuffix(rest, ":events")
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
