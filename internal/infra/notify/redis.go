// Package notify forwards coordinator events to Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"swap_rates/internal/rates"
)

const (
	sinkName  = "redis"
	queueSize = 128
)

// Counter is told about every event the publisher forwards.
type Counter interface {
	IncEventPublished(sink, event string)
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Publisher PUBLISHes events as JSON on a Redis channel.
// Handle only enqueues; Run does the network writes.
type Publisher struct {
	rdb     *redis.Client
	channel string
	queue   chan rates.Event
	counter Counter
	logger  *slog.Logger
}

func NewPublisher(opts RedisOptions, counter Counter, logger *slog.Logger) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if logger == nil {
		logger = slog.Default().With("module", "notify")
	}
	return &Publisher{
		rdb:     rdb,
		channel: opts.Channel,
		queue:   make(chan rates.Event, queueSize),
		counter: counter,
		logger:  logger,
	}
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Handle is a rates.Handler. Events are dropped while the queue is full.
func (p *Publisher) Handle(ev rates.Event) {
	select {
	case p.queue <- ev:
	default:
		p.logger.Warn("Event queue full, dropping", slog.String("event", string(ev.Kind)))
	}
}

// Run publishes queued events until ctx is done, then closes the client.
func (p *Publisher) Run(ctx context.Context) {
	defer p.rdb.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			p.publish(ctx, ev)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev rates.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("Failed to encode event", slog.Any("error", err))
		return
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Redis publish failed",
				slog.String("channel", p.channel),
				slog.String("event", string(ev.Kind)),
				slog.Any("error", err))
		}
		return
	}
	if p.counter != nil {
		p.counter.IncEventPublished(sinkName, string(ev.Kind))
	}
}
