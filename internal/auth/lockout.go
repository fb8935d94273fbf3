package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutStore counts failed logins per identifier within a sliding window
type LockoutStore interface {
	Failures(ctx context.Context, identifier string) (int, error)
	RecordFailure(ctx context.Context, identifier, ip string) error
	Reset(ctx context.Context, identifier string) error
}

// FailedAttemptStore is the repository behind PostgresLockout
type FailedAttemptStore interface {
	CountFailedAttempts(ctx context.Context, identifier string, since time.Time) (int, error)
	RecordFailedAttempt(ctx context.Context, identifier, ip string) error
	ClearFailedAttempts(ctx context.Context, identifier string) error
	CleanupOldFailedAttempts(ctx context.Context, before time.Time) (int64, error)
}

// PostgresLockout keeps failed attempts in the failed_login_attempts table
type PostgresLockout struct {
	store  FailedAttemptStore
	window time.Duration
	now    func() time.Time
}

// NewPostgresLockout creates a PostgresLockout
func NewPostgresLockout(store FailedAttemptStore, window time.Duration) *PostgresLockout {
	return &PostgresLockout{store: store, window: window, now: time.Now}
}

func (l *PostgresLockout) Failures(ctx context.Context, identifier string) (int, error) {
	return l.store.CountFailedAttempts(ctx, identifier, l.now().Add(-l.window))
}

func (l *PostgresLockout) RecordFailure(ctx context.Context, identifier, ip string) error {
	return l.store.RecordFailedAttempt(ctx, identifier, ip)
}

func (l *PostgresLockout) Reset(ctx context.Context, identifier string) error {
	return l.store.ClearFailedAttempts(ctx, identifier)
}

// Prune deletes attempts that fell out of the window
func (l *PostgresLockout) Prune(ctx context.Context) (int64, error) {
	return l.store.CleanupOldFailedAttempts(ctx, l.now().Add(-l.window))
}

const lockoutKeyPrefix = "motosite:login_failures:"

// RedisLockout counts failures with INCR and lets the key expire after the window.
// The window starts at the first failure, so it is fixed rather than sliding.
type RedisLockout struct {
	client redis.Cmdable
	window time.Duration
}

// NewRedisLockout creates a RedisLockout
func NewRedisLockout(client redis.Cmdable, window time.Duration) *RedisLockout {
	return &RedisLockout{client: client, window: window}
}

func lockoutKey(identifier string) string {
	return lockoutKeyPrefix + strings.ToLower(identifier)
}

func (l *RedisLockout) Failures(ctx context.Context, identifier string) (int, error) {
	n, err := l.client.Get(ctx, lockoutKey(identifier)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read failure counter: %w", err)
	}
	return n, nil
}

func (l *RedisLockout) RecordFailure(ctx context.Context, identifier, _ string) error {
	key := lockoutKey(identifier)
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment failure counter: %w", err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("failed to set failure counter expiry: %w", err)
		}
	}
	return nil
}

func (l *RedisLockout) Reset(ctx context.Context, identifier string) error {
	if err := l.client.Del(ctx, lockoutKey(identifier)).Err(); err != nil {
		return fmt.Errorf("failed to reset failure counter: %w", err)
	}
	return nil
}
