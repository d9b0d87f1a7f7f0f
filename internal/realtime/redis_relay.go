package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/premiumcollect/premiumcollect/internal/logger"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by instances.
const DefaultRelayChannel = "premiumcollect:events"

const relayQueue = 512

type relayMessage struct {
	Origin  string          `json:"origin"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay shares published envelopes between API instances over Redis
// pub/sub. Each instance ignores its own messages.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	out     chan relayMessage
	log     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		out:     make(chan relayMessage, relayQueue),
		log:     logger.Named("relay"),
	}
}

// Start subscribes and runs the publish and receive loops until Close.
func (r *RedisRelay) Start(ctx context.Context, deliver func(channel string, msg []byte)) error {
	ctx, cancel := context.WithCancel(ctx)
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.cancel = cancel

	r.wg.Add(2)
	go r.publishLoop(ctx)
	go r.receiveLoop(ctx, sub, deliver)

	r.log.Info("📡 redis event relay started", zap.String("channel", r.channel), zap.String("origin", r.origin))
	return nil
}

// Send queues msg for other instances. A full queue drops the message.
func (r *RedisRelay) Send(channel string, msg []byte) {
	select {
	case r.out <- relayMessage{Origin: r.origin, Channel: channel, Payload: msg}:
	default:
		r.log.Warn("relay queue full, dropping event", zap.String("channel", channel))
	}
}

// Close stops both loops and waits for them.
func (r *RedisRelay) Close() error {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
	r.wg.Wait()
	return nil
}

func (r *RedisRelay) publishLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.out:
			data, err := json.Marshal(m)
			if err != nil {
				continue
			}
			if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil && ctx.Err() == nil {
				r.log.Warn("failed to publish relay event", zap.Error(err))
			}
		}
	}
}

func (r *RedisRelay) receiveLoop(ctx context.Context, sub *redis.PubSub, deliver func(string, []byte)) {
	defer r.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.log.Warn("ignoring malformed relay event", zap.Error(err))
				continue
			}
			if m.Origin == r.origin {
				continue
			}
			deliver(m.Channel, m.Payload)
		}
	}
}
