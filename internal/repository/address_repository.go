package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory errors
var (
	ErrAddressNotFound = errors.New("authorized address not found")
	ErrAddressExists   = errors.New("authorized address already exists")
)

// AddressRepository defines data access for the authorized address directory
type AddressRepository interface {
	GetByAddress(ctx context.Context, address string) (*AuthorizedAddress, error)
	TouchLastAccess(ctx context.Context, address string, at time.Time) error
	Create(ctx context.Context, entry *AuthorizedAddress) error
	SetActive(ctx context.Context, address string, active bool) error
	List(ctx context.Context) ([]AuthorizedAddress, error)
}

// addressRepository implements AddressRepository using PostgreSQL
type addressRepository struct {
	pool *pgxpool.Pool
}

// NewAddressRepository creates a new AddressRepository instance
func NewAddressRepository(pool *pgxpool.Pool) AddressRepository {
	return &addressRepository{pool: pool}
}

const addressColumns = `id, address, name, is_active, last_access_at, created_at, updated_at`

// GetByAddress returns the first entry whose address equals the given string exactly
func (r *addressRepository) GetByAddress(ctx context.Context, address string) (*AuthorizedAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM authorized_addresses WHERE address = $1 ORDER BY created_at LIMIT 1`

	entry := &AuthorizedAddress{}
	err := r.pool.QueryRow(ctx, query, address).Scan(
		&entry.ID,
		&entry.Address,
		&entry.Name,
		&entry.IsActive,
		&entry.LastAccessAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAddressNotFound
		}
		return nil, fmt.Errorf("failed to get authorized address: %w", err)
	}

	return entry, nil
}

// TouchLastAccess records the time of a successful check.
// GREATEST keeps the timestamp monotonic when concurrent checks race.
func (r *addressRepository) TouchLastAccess(ctx context.Context, address string, at time.Time) error {
	query := `
		UPDATE authorized_addresses
		SET last_access_at = GREATEST(COALESCE(last_access_at, $1), $1), updated_at = NOW()
		WHERE address = $2
	`

	result, err := r.pool.Exec(ctx, query, at.UTC(), address)
	if err != nil {
		return fmt.Errorf("failed to touch authorized address: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAddressNotFound
	}
	return nil
}

// Create provisions a new directory entry
func (r *addressRepository) Create(ctx context.Context, entry *AuthorizedAddress) error {
	query := `
		INSERT INTO authorized_addresses (address, name, is_active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query, entry.Address, entry.Name, entry.IsActive).
		Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "idx_authorized_addresses_address") {
			return ErrAddressExists
		}
		return fmt.Errorf("failed to create authorized address: %w", err)
	}
	return nil
}

// SetActive activates or deactivates an entry
func (r *addressRepository) SetActive(ctx context.Context, address string, active bool) error {
	query := `UPDATE authorized_addresses SET is_active = $1, updated_at = NOW() WHERE address = $2`

	result, err := r.pool.Exec(ctx, query, active, address)
	if err != nil {
		return fmt.Errorf("failed to update authorized address: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAddressNotFound
	}
	return nil
}

// List returns every directory entry ordered by address
func (r *addressRepository) List(ctx context.Context) ([]AuthorizedAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM authorized_addresses ORDER BY address`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorized addresses: %w", err)
	}
	defer rows.Close()

	var entries []AuthorizedAddress
	for rows.Next() {
		var e AuthorizedAddress
		if err := rows.Scan(&e.ID, &e.Address, &e.Name, &e.IsActive, &e.LastAccessAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan authorized address: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating authorized addresses: %w", err)
	}
	return entries, nil
}
