// Package cache provides the versioned Redis read cache placed in front of
// statements and reports. Ledger writes bump the version, which orphans every
// previously cached entry.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	versionKey  = "billing:cache:version"
	bumpChannel = "billing.ledger.bump"
)

// Cache wraps Redis based caching with versioning controls.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// New instantiates the cache helper. A nil client disables caching.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, logger: slog.Default()}
}

// WithLogger sets the logger used for non-fatal cache failures.
func (c *Cache) WithLogger(logger *slog.Logger) *Cache {
	if c != nil && logger != nil {
		c.logger = logger
	}
	return c
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX keeps a concurrent Bump from being overwritten.
		if err := c.client.SetNX(ctx, versionKey, 1, 0).Err(); err != nil {
			return 0, fmt.Errorf("cache: init version: %w", err)
		}
		return c.client.Get(ctx, versionKey).Int64()
	}
	if err != nil {
		return 0, fmt.Errorf("cache: version: %w", err)
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if !c.enabled() {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader. Concurrent
// misses on one key share a single loader call, which runs detached from any
// one caller's cancellation. A failed write-back is logged and the loaded
// value is still returned.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if !c.enabled() {
		raw, err := load(ctx, loader)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dest)
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("cache: get %s: %w", key, err)
	}

	detached := context.WithoutCancel(ctx)
	resultChan := c.group.DoChan(key, func() (any, error) {
		raw, err := load(detached, loader)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(detached, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

func load(ctx context.Context, loader func(context.Context) (any, error)) ([]byte, error) {
	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(value)
}

// Bump invalidates the cache by incrementing the global version and publishing an event.
func (c *Cache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey).Result()
	if err != nil {
		return fmt.Errorf("cache: bump: %w", err)
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation subscribes to version bump notifications and calls
// onBump with each announced version until ctx is cancelled.
func (c *Cache) ListenForInvalidation(ctx context.Context, onBump func(version int64)) error {
	if !c.enabled() {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("cache: subscribe: %w", err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					continue
				}
				if onBump != nil {
					onBump(ver)
				}
			}
		}
	}()
	return nil
}
