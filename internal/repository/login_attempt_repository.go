package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LoginAttemptRepository tracks failed admin logins for lockout decisions
type LoginAttemptRepository interface {
	CountFailedAttempts(ctx context.Context, identifier string, since time.Time) (int, error)
	RecordFailedAttempt(ctx context.Context, identifier, ip string) error
	ClearFailedAttempts(ctx context.Context, identifier string) error
	CleanupOldFailedAttempts(ctx context.Context, before time.Time) (int64, error)
}

// loginAttemptRepository implements LoginAttemptRepository using PostgreSQL
type loginAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository instance
func NewLoginAttemptRepository(pool *pgxpool.Pool) LoginAttemptRepository {
	return &loginAttemptRepository{pool: pool}
}

// CountFailedAttempts counts failed logins for an identifier since a given time
func (r *loginAttemptRepository) CountFailedAttempts(ctx context.Context, identifier string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM failed_login_attempts
		WHERE identifier = $1 AND attempted_at >= $2
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, strings.ToLower(identifier), since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failed attempts: %w", err)
	}
	return count, nil
}

// RecordFailedAttempt records a failed login attempt
func (r *loginAttemptRepository) RecordFailedAttempt(ctx context.Context, identifier, ip string) error {
	query := `INSERT INTO failed_login_attempts (identifier, ip_address) VALUES ($1, $2)`

	if _, err := r.pool.Exec(ctx, query, strings.ToLower(identifier), ip); err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}
	return nil
}

// ClearFailedAttempts forgets the failures of an identifier after a successful login
func (r *loginAttemptRepository) ClearFailedAttempts(ctx context.Context, identifier string) error {
	query := `DELETE FROM failed_login_attempts WHERE identifier = $1`

	if _, err := r.pool.Exec(ctx, query, strings.ToLower(identifier)); err != nil {
		return fmt.Errorf("failed to clear failed attempts: %w", err)
	}
	return nil
}

// CleanupOldFailedAttempts removes failed login attempts older than the specified time
func (r *loginAttemptRepository) CleanupOldFailedAttempts(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM failed_login_attempts WHERE attempted_at < $1`

	result, err := r.pool.Exec(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup failed attempts: %w", err)
	}
	return result.RowsAffected(), nil
}
