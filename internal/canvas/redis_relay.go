package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	relayChannelPrefix = "crucial:canvas:"
	relayOutboxSize    = 256
	relayPublishWait   = 2 * time.Second
)

// RedisRelayConfig configures the cross-instance broadcast relay.
type RedisRelayConfig struct {
	Addr     string
	Password string
	DB       int
	NodeID   string
}

// RedisRelay fans published messages out to other gateway instances through
// Redis pub/sub and delivers their messages to the local hub.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	nodeID string
	logger *slog.Logger
	outbox chan StreamMessage
}

// NewRedisRelay creates a relay bound to hub. Call Run to start it.
func NewRedisRelay(cfg RedisRelayConfig, hub *Hub, logger *slog.Logger) (*RedisRelay, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisRelay(client, hub, cfg.NodeID, logger), nil
}

func newRedisRelay(client *redis.Client, hub *Hub, nodeID string, logger *slog.Logger) *RedisRelay {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		client: client,
		hub:    hub,
		nodeID: nodeID,
		logger: logger.With("component", "canvas-relay", "node_id", nodeID),
		outbox: make(chan StreamMessage, relayOutboxSize),
	}
}

// NodeID identifies this instance on the relay.
func (r *RedisRelay) NodeID() string {
	return r.nodeID
}

// Forward queues a locally published message. It never blocks; when the outbox
// is full the message is dropped for remote viewers only.
func (r *RedisRelay) Forward(msg StreamMessage) {
	if msg.Origin != "" && msg.Origin != r.nodeID {
		return
	}
	msg.Origin = r.nodeID
	select {
	case r.outbox <- msg:
	default:
		r.logger.Warn("relay outbox full, dropping message", "canvas_id", msg.CanvasID)
	}
}

// Run publishes queued messages and delivers remote ones until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	pubsub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	defer pubsub.Close()

	go r.publishLoop(ctx)

	incoming := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-incoming:
			if !ok {
				return errors.New("redis subscription closed")
			}
			r.handle(m.Payload)
		}
	}
}

func (r *RedisRelay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.outbox:
			data, err := json.Marshal(msg)
			if err != nil {
				r.logger.Warn("encode relay message", "error", err)
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, relayPublishWait)
			err = r.client.Publish(pubCtx, relayChannelPrefix+msg.CanvasID, data).Err()
			cancel()
			if err != nil {
				r.logger.Warn("relay publish failed", "canvas_id", msg.CanvasID, "error", err)
			}
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var msg StreamMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("decode relay message", "error", err)
		return
	}
	if msg.Origin == r.nodeID || msg.CanvasID == "" {
		return
	}
	r.hub.Deliver(msg)
}

// Close releases the redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
