package phicache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

type wipeMessage struct {
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// RedisWipeBroadcaster propagates ClearAll across instances over a Redis
// pub/sub channel. A local ClearAll publishes a wipe; a wipe received from
// another instance triggers ClearLocal, which does not publish again.
type RedisWipeBroadcaster struct {
	client     redis.UniversalClient
	channel    string
	instanceID string
	manager    *Manager
	logger     *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

func NewRedisWipeBroadcaster(client redis.UniversalClient, channel string, manager *Manager, logger *zap.Logger) *RedisWipeBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisWipeBroadcaster{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		manager:    manager,
		logger:     logger.With(zap.String("channel", channel)),
	}
}

// Start subscribes to the channel and hooks into the manager. It returns
// once the subscription is confirmed by the server.
func (b *RedisWipeBroadcaster) Start(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to wipe channel '%s': %w", b.channel, err)
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.mu.Unlock()

	b.manager.OnClearAll(func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := b.Publish(ctx); err != nil {
			b.logger.Error("failed to broadcast phi wipe", zap.Error(err))
		}
	})

	b.wg.Add(1)
	go b.listen(pubsub.Channel())
	return nil
}

// Publish asks every other instance to wipe its PHI caches.
func (b *RedisWipeBroadcaster) Publish(ctx context.Context) error {
	body, err := json.Marshal(wipeMessage{Origin: b.instanceID, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, body).Err()
}

// Close ends the subscription and waits for the listener to exit.
func (b *RedisWipeBroadcaster) Close() error {
	b.mu.Lock()
	pubsub := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	b.wg.Wait()
	return err
}

func (b *RedisWipeBroadcaster) listen(ch <-chan *redis.Message) {
	defer b.wg.Done()
	for msg := range ch {
		var wipe wipeMessage
		if err := json.Unmarshal([]byte(msg.Payload), &wipe); err != nil {
			b.logger.Warn("ignoring malformed wipe message", zap.Error(err))
			continue
		}
		if wipe.Origin == b.instanceID {
			continue
		}
		b.logger.Info("remote phi wipe received", zap.String("origin", wipe.Origin))
		b.manager.ClearLocal()
	}
}
