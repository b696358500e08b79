/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_reserve/internal/events"
)

// ErrCircuitOpen is returned while the Redis sink is backing off.
var ErrCircuitOpen = errors.New("redis circuit open")

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	ChannelPrefix string
	DedupTTL      time.Duration

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		ChannelPrefix: "reserve:events",
		DedupTTL:      24 * time.Hour,
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// RedisSink publishes facts on Redis pub/sub channels, one per event type.
// A SETNX marker per event id keeps redelivered facts from being published twice.
type RedisSink struct {
	client *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	failCount int
	openUntil time.Time
}

// NewRedisSink creates a Redis sink on an existing client.
func NewRedisSink(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *RedisSink {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultRedisConfig().ChannelPrefix
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultRedisConfig().MaxFailures
	}
	return &RedisSink{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "redis_sink").Logger(),
		now:    time.Now,
	}
}

// NewRedisClient dials Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Name identifies the sink.
func (s *RedisSink) Name() string {
	return "redis"
}

// Deliver publishes ev unless it was already published.
func (s *RedisSink) Deliver(ctx context.Context, ev events.Event) error {
	if err := s.allow(); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := s.cfg.ChannelPrefix + ":seen:" + ev.ID
	fresh, err := s.client.SetNX(ctx, key, 1, s.cfg.DedupTTL).Result()
	if err != nil {
		s.handleFailure()
		return fmt.Errorf("mark event: %w", err)
	}
	if !fresh {
		s.logger.Debug().Str("event_id", ev.ID).Msg("event already published")
		return nil
	}

	if err := s.client.Publish(ctx, s.channel(ev.Type), data).Err(); err != nil {
		// Clear the marker so the retry publishes.
		_ = s.client.Del(ctx, key).Err()
		s.handleFailure()
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	s.mu.Lock()
	s.failCount = 0
	s.mu.Unlock()
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisSink) Close() error {
	return nil
}

func (s *RedisSink) channel(t events.EventType) string {
	return s.cfg.ChannelPrefix + ":" + string(t)
}

func (s *RedisSink) allow() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openUntil.IsZero() {
		return nil
	}
	if s.now().Before(s.openUntil) {
		return ErrCircuitOpen
	}
	s.openUntil = time.Time{}
	s.failCount = 0
	s.logger.Info().Msg("redis circuit half-open, retrying")
	return nil
}

// handleFailure implements circuit breaker logic.
func (s *RedisSink) handleFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failCount++
	if s.failCount >= s.cfg.MaxFailures && s.openUntil.IsZero() {
		s.openUntil = s.now().Add(s.cfg.CheckInterval)
		s.logger.Warn().
			Int("fail_count", s.failCount).
			Time("retry_at", s.openUntil).
			Msg("Redis failure threshold reached, opening circuit")
	}
}
