package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptRepository defines data access for the access attempt audit log.
// The log is append-only: there is no update or delete.
type AttemptRepository interface {
	Record(ctx context.Context, attempt *AccessAttempt) error
	ListRecent(ctx context.Context, address string, limit int) ([]AccessAttempt, error)
}

// attemptRepository implements AttemptRepository using PostgreSQL
type attemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository instance
func NewAttemptRepository(pool *pgxpool.Pool) AttemptRepository {
	return &attemptRepository{pool: pool}
}

// Record appends one attempt
func (r *attemptRepository) Record(ctx context.Context, attempt *AccessAttempt) error {
	query := `
		INSERT INTO access_attempts (address, granted, reason, user_agent, attempted_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var reason *string
	if attempt.Reason != nil {
		s := string(*attempt.Reason)
		reason = &s
	}

	err := r.pool.QueryRow(ctx, query,
		attempt.Address,
		attempt.Granted,
		reason,
		attempt.UserAgent,
		attempt.AttemptedAt.UTC(),
	).Scan(&attempt.ID)
	if err != nil {
		return fmt.Errorf("failed to record access attempt: %w", err)
	}
	return nil
}

// ListRecent returns the newest attempts, optionally filtered to one address
func (r *attemptRepository) ListRecent(ctx context.Context, address string, limit int) ([]AccessAttempt, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, address, granted, reason, user_agent, attempted_at
		FROM access_attempts
		WHERE ($1 = '' OR address = $1)
		ORDER BY attempted_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list access attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]AccessAttempt, 0, limit)
	for rows.Next() {
		var a AccessAttempt
		var reason *string
		if err := rows.Scan(&a.ID, &a.Address, &a.Granted, &reason, &a.UserAgent, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan access attempt: %w", err)
		}
		if reason != nil {
			dr := DenialReason(*reason)
			a.Reason = &dr
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating access attempts: %w", err)
	}
	return attempts, nil
}
