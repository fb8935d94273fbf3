package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Principal errors
var (
	ErrPrincipalNotFound = errors.New("admin principal not found")
	ErrPrincipalExists   = errors.New("admin principal already exists")
)

// PrincipalRepository defines the interface for admin account data access
type PrincipalRepository interface {
	Create(ctx context.Context, p *AdminPrincipal) error
	GetByID(ctx context.Context, id uuid.UUID) (*AdminPrincipal, error)
	// GetByLogin matches the identifier against username or email, case-insensitively
	GetByLogin(ctx context.Context, identifier string) (*AdminPrincipal, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// principalRepository implements PrincipalRepository using PostgreSQL
type principalRepository struct {
	pool *pgxpool.Pool
}

// NewPrincipalRepository creates a new PrincipalRepository instance
func NewPrincipalRepository(pool *pgxpool.Pool) PrincipalRepository {
	return &principalRepository{pool: pool}
}

const principalColumns = `id, username, email, password_hash, role, is_active, last_login_at, created_at, updated_at`

func scanPrincipal(row pgx.Row) (*AdminPrincipal, error) {
	p := &AdminPrincipal{}
	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.Email,
		&p.PasswordHash,
		&p.Role,
		&p.IsActive,
		&p.LastLoginAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to scan admin principal: %w", err)
	}
	return p, nil
}

// Create inserts a new principal
func (r *principalRepository) Create(ctx context.Context, p *AdminPrincipal) error {
	query := `
		INSERT INTO admin_principals (username, email, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		strings.ToLower(p.Username),
		strings.ToLower(p.Email),
		p.PasswordHash,
		p.Role,
		p.IsActive,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "idx_admin_principals_") {
			return ErrPrincipalExists
		}
		return fmt.Errorf("failed to create admin principal: %w", err)
	}
	return nil
}

// GetByID retrieves a principal by ID
func (r *principalRepository) GetByID(ctx context.Context, id uuid.UUID) (*AdminPrincipal, error) {
	query := `SELECT ` + principalColumns + ` FROM admin_principals WHERE id = $1`
	return scanPrincipal(r.pool.QueryRow(ctx, query, id))
}

// GetByLogin retrieves a principal by username or email
func (r *principalRepository) GetByLogin(ctx context.Context, identifier string) (*AdminPrincipal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM admin_principals
		WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1)
		ORDER BY (LOWER(username) = LOWER($1)) DESC
		LIMIT 1
	`
	return scanPrincipal(r.pool.QueryRow(ctx, query, identifier))
}

// UpdateLastLogin updates the last_login_at timestamp
func (r *principalRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE admin_principals SET last_login_at = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// UpdatePassword replaces the stored bcrypt hash
func (r *principalRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `UPDATE admin_principals SET password_hash = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// SetActive enables or disables a principal
func (r *principalRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE admin_principals SET is_active = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("failed to update principal status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}
