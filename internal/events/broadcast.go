package events

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroadcaster carries serialized events between processes over a
// Redis pub/sub channel. Reconnection is handled by go-redis itself; a
// publisher also receives its own messages back, which the bus dedup
// window filters out.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	out    chan []byte
	done   chan struct{}
}

// NewRedisBroadcaster builds a broadcaster on the given channel.
func NewRedisBroadcaster(client *redis.Client, channel string, logger *zap.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// Connect subscribes to the broadcast channel and starts forwarding
// messages.
func (r *RedisBroadcaster) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return nil
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	// Receive forces the SUBSCRIBE round-trip so connection errors
	// surface here instead of on the first message.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	r.pubsub = pubsub
	r.out = make(chan []byte, 256)
	r.done = make(chan struct{})

	go r.forward(pubsub.Channel())
	r.logger.Info("subscribed to broadcast channel", zap.String("channel", r.channel))
	return nil
}

func (r *RedisBroadcaster) forward(in <-chan *redis.Message) {
	defer close(r.out)
	for {
		select {
		case <-r.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case r.out <- []byte(msg.Payload):
			case <-r.done:
				return
			}
		}
	}
}

// Send publishes a serialized event to the channel.
func (r *RedisBroadcaster) Send(ctx context.Context, data []byte) error {
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Messages returns the inbound message stream.
func (r *RedisBroadcaster) Messages() <-chan []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out
}

// Close tears down the subscription.
func (r *RedisBroadcaster) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub == nil {
		return nil
	}
	close(r.done)
	err := r.pubsub.Close()
	r.pubsub = nil
	return err
}
