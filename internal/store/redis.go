// Package store provides storage backends for KolpingBot.
//
// This file implements a Redis-backed store. Dialog state is kept as a JSON value per user
// with an expiry, so abandoned dialogs disappear on their own.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis key layout and defaults
const (
	redisKeyPrefix        = "kolpingbot:"
	redisDialogPrefix     = redisKeyPrefix + "dialog:"
	redisInboundPrefix    = redisKeyPrefix + "inbound:"
	redisRegistrationsKey = redisKeyPrefix + "registrations"

	// DefaultRedisTTL is how long an untouched dialog or dedup record is kept.
	DefaultRedisTTL = 24 * time.Hour
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis using a redis:// URL or a bare host:port address.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("redis URL not set")
	}

	var redisOpts *redis.Options
	if strings.Contains(cfg.DSN, "://") {
		parsed, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		redisOpts = parsed
	} else {
		redisOpts = &redis.Options{Addr: cfg.DSN}
	}

	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		slog.Error("Redis ping failed", "error", err, "addr", redisOpts.Addr)
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}
	slog.Debug("Redis connection established", "addr", redisOpts.Addr)
	return NewRedisStoreFromClient(client, cfg.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client. A zero ttl selects DefaultRedisTTL.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Client exposes the underlying client so per-user locks can share the connection pool.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) GetDialogState(ctx context.Context, userID string) (*models.DialogState, error) {
	raw, err := s.client.Get(ctx, redisDialogPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetDialogState failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get dialog state for %s: %w", userID, err)
	}
	var state models.DialogState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode dialog state for %s: %w", userID, err)
	}
	return &state, nil
}

func (s *RedisStore) SaveDialogState(ctx context.Context, state models.DialogState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode dialog state for %s: %w", state.UserID, err)
	}
	if err := s.client.Set(ctx, redisDialogPrefix+state.UserID, raw, s.ttl).Err(); err != nil {
		slog.Error("RedisStore SaveDialogState failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to save dialog state for %s: %w", state.UserID, err)
	}
	slog.Debug("RedisStore SaveDialogState succeeded", "userID", state.UserID, "step", state.Step)
	return nil
}

func (s *RedisStore) DeleteDialogState(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, redisDialogPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to delete dialog state for %s: %w", userID, err)
	}
	return nil
}

// RecordInbound uses SET NX so concurrent deliveries of one message id race safely.
func (s *RedisStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, redisInboundPrefix+messageID, userID, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, messageID string) error {
	key := redisInboundPrefix + messageID
	if err := s.client.HSet(ctx, key+":meta", "processed_at", time.Now().Unix()).Err(); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return s.client.Expire(ctx, key+":meta", s.ttl).Err()
}

func (s *RedisStore) SaveRegistration(ctx context.Context, reg models.Registration) error {
	raw, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to encode registration: %w", err)
	}
	if err := s.client.RPush(ctx, redisRegistrationsKey, raw).Err(); err != nil {
		return fmt.Errorf("failed to save registration: %w", err)
	}
	return nil
}

func (s *RedisStore) ListRegistrations(ctx context.Context) ([]models.Registration, error) {
	items, err := s.client.LRange(ctx, redisRegistrationsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	regs := make([]models.Registration, 0, len(items))
	for _, item := range items {
		var r models.Registration
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("failed to decode registration: %w", err)
		}
		regs = append(regs, r)
	}
	return regs, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
