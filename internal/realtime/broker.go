package realtime

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Broker publishes payloads to channels.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// LocalBroker delivers straight into the process registry.
type LocalBroker struct {
	registry *Registry
}

func NewLocalBroker(registry *Registry) *LocalBroker {
	return &LocalBroker{registry: registry}
}

func (b *LocalBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.registry.Publish(channel, payload)
	return nil
}

// RedisBroker relays channels through Redis pub/sub so every gateway
// instance delivers to its own subscribers. Run must be active for local
// delivery to happen at all.
type RedisBroker struct {
	client   redis.UniversalClient
	registry *Registry
	prefix   string
	logger   *logrus.Logger
	ready    chan struct{}
}

func NewRedisBroker(client redis.UniversalClient, registry *Registry, prefix string, logger *logrus.Logger) *RedisBroker {
	return &RedisBroker{
		client:   client,
		registry: registry,
		prefix:   prefix + "rt:",
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, b.prefix+channel, payload).Err()
}

// Ready is closed once the pattern subscription is confirmed.
func (b *RedisBroker) Ready() <-chan struct{} {
	return b.ready
}

// Run consumes the relay subscription until ctx is cancelled.
func (b *RedisBroker) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	close(b.ready)
	b.logger.WithField("pattern", b.prefix+"*").Info("Redis broker subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			channel := strings.TrimPrefix(msg.Channel, b.prefix)
			delivered := b.registry.Publish(channel, []byte(msg.Payload))
			b.logger.WithFields(logrus.Fields{
				"channel":   channel,
				"delivered": delivered,
			}).Debug("Relayed broadcast")
		}
	}
}
