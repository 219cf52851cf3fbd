// Package bus fans cache invalidations out across dashboard proxy replicas
// over Redis pub/sub, so a write confirmed through one replica is refetched
// by every other replica's store.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/cache"
)

// DefaultChannel is the pub/sub channel invalidations travel on.
const DefaultChannel = "tb-dash:invalidate"

// Message is one invalidation broadcast.
type Message struct {
	Origin string    `json:"origin"`
	Keys   []string  `json:"keys"`
	SentAt time.Time `json:"sent_at"`
}

// Invalidator is the part of the store the bus drives.
type Invalidator interface {
	Invalidate(keys ...cache.Key)
}

// Bus publishes and receives invalidations.
type Bus struct {
	client  *redis.Client
	channel string
	origin  string
	log     *slog.Logger
}

// New connects to the Redis server at redisURL (redis://[:password@]host:port/db).
func New(ctx context.Context, redisURL string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Bus{
		client:  client,
		channel: DefaultChannel,
		origin:  uuid.NewString(),
		log:     slog.Default().With("component", "bus"),
	}, nil
}

// Origin identifies this replica in published messages.
func (b *Bus) Origin() string { return b.origin }

// Publish broadcasts keys to every other replica.
func (b *Bus) Publish(ctx context.Context, keys []cache.Key) error {
	if len(keys) == 0 {
		return nil
	}
	data, err := Encode(b.origin, keys, time.Now())
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Notify publishes keys with a short timeout, logging failures. It fits
// cache.Store.OnMutation and proxy write hooks.
func (b *Bus) Notify(keys []cache.Key) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Publish(ctx, keys); err != nil {
		b.log.Warn("invalidation not broadcast", "keys", len(keys), "error", err)
	}
}

// Run applies invalidations from other replicas to inv until ctx is
// cancelled.
func (b *Bus) Run(ctx context.Context, inv Invalidator) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info("listening for invalidations", "channel", b.channel, "origin", b.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			b.apply(inv, []byte(msg.Payload))
		}
	}
}

func (b *Bus) apply(inv Invalidator, payload []byte) {
	m, keys, err := Decode(payload)
	if err != nil {
		b.log.Warn("dropping malformed invalidation", "error", err)
		return
	}
	if m.Origin == b.origin {
		return
	}
	inv.Invalidate(keys...)
	b.log.Debug("applied remote invalidation", "origin", m.Origin, "keys", len(keys))
}

// Close releases the Redis connection.
func (b *Bus) Close() error {
	return b.client.Close()
}

// Encode serializes an invalidation message.
func Encode(origin string, keys []cache.Key, at time.Time) ([]byte, error) {
	m := Message{Origin: origin, SentAt: at.UTC()}
	for _, k := range keys {
		m.Keys = append(m.Keys, k.String())
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal invalidation: %w", err)
	}
	return data, nil
}

// Decode parses a message produced by Encode.
func Decode(data []byte) (Message, []cache.Key, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, nil, fmt.Errorf("decode invalidation: %w", err)
	}
	if m.Origin == "" {
		return Message{}, nil, errors.New("decode invalidation: missing origin")
	}
	keys := make([]cache.Key, 0, len(m.Keys))
	for _, s := range m.Keys {
		k := cache.ParseKey(s)
		if k.Collection == "" {
			return Message{}, nil, fmt.Errorf("decode invalidation: bad key %q", s)
		}
		keys = append(keys, k)
	}
	return m, keys, nil
}
