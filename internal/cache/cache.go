/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based cache for waiting list rank snapshots.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/models"
)

// DefaultRankTTL bounds staleness if an invalidating fact is missed.
const DefaultRankTTL = 2 * time.Minute

// KeyRank prefixes rank snapshots; the resource id is appended.
const KeyRank = "grimnir:reserve:cache:rank:"

// Config contains cache configuration.
type Config struct {
	RankTTL time.Duration

	// DisableOnError turns caching off after the first Redis error.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RankTTL:        DefaultRankTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. A nil client
// yields a disabled cache.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a cache on an existing client.
func New(client *redis.Client, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.RankTTL <= 0 {
		cfg.RankTTL = DefaultRankTTL
	}
	return &Cache{
		client:   client,
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   cfg,
		disabled: client == nil,
	}
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}
	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}

// GetRank returns the cached snapshot of a resource's waiting list.
func (c *Cache) GetRank(ctx context.Context, resourceID string) ([]models.QueuedEntry, bool) {
	var ranked []models.QueuedEntry
	found, _ := c.get(ctx, KeyRank+resourceID, &ranked)
	return ranked, found
}

// SetRank stores a snapshot.
func (c *Cache) SetRank(ctx context.Context, resourceID string, ranked []models.QueuedEntry) error {
	return c.set(ctx, KeyRank+resourceID, ranked, c.config.RankTTL)
}

// InvalidateRank drops a snapshot.
func (c *Cache) InvalidateRank(ctx context.Context, resourceID string) error {
	return c.delete(ctx, KeyRank+resourceID)
}
