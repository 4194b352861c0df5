package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// publishTimeout bounds one publish to the cluster channel
const publishTimeout = 3 * time.Second

// Publisher publishes raw payloads on a pub/sub channel
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ClusterMessage is what relay instances exchange on the cluster channel
type ClusterMessage struct {
	Instance string `json:"instance"`         // publishing relay instance
	Origin   string `json:"origin"`           // client ID on that instance, or SERVER
	Data     []byte `json:"data"`             // wire frame exactly as fanned out locally (base64 in JSON)
	Binary   bool   `json:"binary,omitempty"` // Data goes out as a binary websocket frame
}

// ClusterBridge mirrors local fan-out to other relay instances and delivers
// their traffic to every local peer. Local peers never see their own frames
// come back because each instance drops messages it published itself.
type ClusterBridge struct {
	instance   string
	channel    string
	publisher  Publisher
	dispatcher *Dispatcher
	outbound   chan ClusterMessage
	logger     *slog.Logger
}

// constructor for ClusterBridge; registers itself as the dispatcher's forwarder
func NewClusterBridge(publisher Publisher, channel string, dispatcher *Dispatcher, logger *slog.Logger) *ClusterBridge {
	if logger == nil {
		logger = slog.Default()
	}
	instance := uuid.NewString()
	b := &ClusterBridge{
		instance:   instance,
		channel:    channel,
		publisher:  publisher,
		dispatcher: dispatcher,
		outbound:   make(chan ClusterMessage, 1024),
		logger:     logger.With("instance", instance),
	}
	dispatcher.SetForwarder(b)
	return b
}

// Instance returns this relay's cluster identity
func (b *ClusterBridge) Instance() string {
	return b.instance
}

// Forward queues a locally fanned-out frame for publishing. Never blocks;
// a full queue drops the frame for remote instances only.
func (b *ClusterBridge) Forward(originID string, msg []byte, binary bool) {
	select {
	case b.outbound <- ClusterMessage{Instance: b.instance, Origin: originID, Data: msg, Binary: binary}:
	default:
		b.logger.Warn("cluster_forward_dropped", "origin", originID, "bytes", len(msg))
	}
}

// Run publishes queued frames and delivers frames received on inbound until
// ctx is cancelled or inbound is closed.
func (b *ClusterBridge) Run(ctx context.Context, inbound <-chan string) error {
	b.logger.Info("cluster_bridge_started", "channel", b.channel)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.publish(ctx, msg)
		case payload, ok := <-inbound:
			if !ok {
				return fmt.Errorf("cluster subscription closed")
			}
			b.Handle(payload)
		}
	}
}

// Handle delivers one cluster payload to every local peer. Malformed
// payloads and our own echoes are dropped.
func (b *ClusterBridge) Handle(payload string) Delivery {
	var msg ClusterMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.logger.Warn("cluster_message_invalid", "error", err.Error())
		return Delivery{}
	}
	if msg.Instance == b.instance {
		return Delivery{}
	}
	return b.dispatcher.DeliverFrame(msg.Data, msg.Binary, "")
}

func (b *ClusterBridge) publish(ctx context.Context, msg ClusterMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("cluster_marshal_failed", "error", err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.publisher.Publish(ctx, b.channel, data); err != nil {
		b.logger.Warn("cluster_publish_failed", "origin", msg.Origin, "error", err.Error())
	}
}

// RedisPubSub is the Redis-backed cluster transport
type RedisPubSub struct {
	client *redis.Client
}

// constructor for RedisPubSub, verifies the connection
func NewRedisPubSub(ctx context.Context, redisURL string) (*RedisPubSub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisPubSub{client: client}, nil
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe returns the payloads published on channel; the returned channel
// closes when ctx is cancelled.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- m.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the Redis client
func (r *RedisPubSub) Close() error {
	return r.client.Close()
}
