package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tahfiz-app/tahfiz-api/internal/models"
	"github.com/tahfiz-app/tahfiz-api/pkg/jobs"
)

// Relay mirrors locally published events to a Redis Pub/Sub channel and
// rebroadcasts events published by other instances into the local broker.
// Outbound publishing runs on a jobs.Queue so a Redis hiccup retries in the
// background instead of stalling the lifecycle engine.
type Relay struct {
	broker  *Broker
	client  *redis.Client
	channel string
	logger  *zap.Logger
	queue   *jobs.Queue
}

// RelayConfig wires the relay.
type RelayConfig struct {
	ChannelPrefix string
	Workers       int
	Logger        *zap.Logger
}

// NewRelay builds a relay around the broker.
func NewRelay(broker *Broker, client *redis.Client, cfg RelayConfig) *Relay {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "tahfiz:feed"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := &Relay{
		broker:  broker,
		client:  client,
		channel: cfg.ChannelPrefix + ":events",
		logger:  cfg.Logger,
	}
	r.queue = jobs.NewQueue("feed-relay", r.publishRemote, jobs.QueueConfig{
		Workers: cfg.Workers,
		Logger:  cfg.Logger,
	})
	return r
}

// Start launches the outbound worker pool and the inbound subscriber loop.
func (r *Relay) Start(ctx context.Context) {
	r.queue.Start(ctx)
	go r.consume(ctx)
}

// Stop drains the outbound queue workers.
func (r *Relay) Stop() {
	r.queue.Stop()
}

// Publish fans the event out locally, then mirrors it to Redis.
func (r *Relay) Publish(event models.ChangeEvent) {
	r.broker.Publish(event)

	if event.Origin == "" {
		event.Origin = r.broker.Origin()
	}
	if err := r.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "relay_publish",
		Payload: event,
	}); err != nil {
		r.logger.Warn("relay enqueue failed", zap.Error(err))
	}
}

func (r *Relay) publishRemote(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.ChangeEvent)
	if !ok {
		return fmt.Errorf("unexpected relay payload %T", job.Payload)
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal relay event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, encoded).Err(); err != nil {
		return fmt.Errorf("publish relay event: %w", err)
	}
	return nil
}

func (r *Relay) consume(ctx context.Context) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event models.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warn("relay received malformed event", zap.Error(err))
				continue
			}
			if event.Origin == r.broker.Origin() {
				continue
			}
			r.broker.Publish(event)
		}
	}
}
