// Package invalidation fans index invalidations out to every sangam
// instance sharing a Redis deployment.
package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kalambet/sangam/internal/indexcache"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "sangam:index_invalidations"

type event struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Origin string `json:"origin"`
}

// Bus publishes and receives invalidations on one Redis channel.
type Bus struct {
	rdb     *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

// NewBus creates a Bus. An empty channel selects DefaultChannel.
func NewBus(rdb *redis.Client, channel string) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.New().String(),
		logger:  slog.Default().With("channel", channel),
	}
}

// Publish announces that the index of key changed.
func (b *Bus) Publish(ctx context.Context, key indexcache.Key) error {
	payload, err := json.Marshal(event{Owner: key.Owner, Name: key.Name, Origin: b.origin})
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", b.channel, err)
	}
	return nil
}

// Subscription delivers invalidations until closed.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close stops delivery and waits for the receive loop to exit.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// Subscribe calls handler for every invalidation published by another
// instance. It returns once Redis has confirmed the subscription.
func (b *Bus) Subscribe(ctx context.Context, handler func(indexcache.Key)) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("dropping malformed invalidation", "payload", msg.Payload, "error", err)
					continue
				}
				if ev.Origin == b.origin {
					continue
				}
				b.logger.Debug("invalidation received", "owner", ev.Owner, "name", ev.Name)
				handler(indexcache.Key{Owner: ev.Owner, Name: ev.Name})
			}
		}
	}()

	return sub, nil
}
