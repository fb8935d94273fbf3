package repository

import (
	"time"

	"github.com/google/uuid"
)

// DenialReason explains why an authorization check was refused
type DenialReason string

const (
	// ReasonNotFound means no directory entry matched the address
	ReasonNotFound DenialReason = "NOT_FOUND"
	// ReasonInactive means the entry exists but has been deactivated
	ReasonInactive DenialReason = "INACTIVE"
)

// AuthorizedAddress is a directory entry allowing one IP address to reach the admin login.
// Address is compared verbatim; there are no range semantics.
type AuthorizedAddress struct {
	ID           uuid.UUID  `db:"id"`
	Address      string     `db:"address"`
	Name         string     `db:"name"`
	IsActive     bool       `db:"is_active"`
	LastAccessAt *time.Time `db:"last_access_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// AccessAttempt is an append-only audit record of one authorization check
type AccessAttempt struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	Address     string        `db:"address" json:"address"`
	Granted     bool          `db:"granted" json:"granted"`
	Reason      *DenialReason `db:"reason" json:"reason,omitempty"`
	UserAgent   *string       `db:"user_agent" json:"user_agent,omitempty"`
	AttemptedAt time.Time     `db:"attempted_at" json:"attempted_at"`
}

// AdminPrincipal is an administrator account
type AdminPrincipal struct {
	ID           uuid.UUID  `db:"id"`
	Username     string     `db:"username"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	Role         string     `db:"role"`
	IsActive     bool       `db:"is_active"`
	LastLoginAt  *time.Time `db:"last_login_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// FailedLoginAttempt represents a failed login attempt for brute force protection
type FailedLoginAttempt struct {
	ID          uuid.UUID `db:"id"`
	Identifier  string    `db:"identifier"`
	IPAddress   string    `db:"ip_address"`
	AttemptedAt time.Time `db:"attempted_at"`
}

// Product is a motorcycle model shown on the marketing site
type Product struct {
	ID          uuid.UUID `db:"id"`
	Slug        string    `db:"slug"`
	Name        string    `db:"name"`
	Tagline     string    `db:"tagline"`
	Description string    `db:"description"`
	PriceCents  int64     `db:"price_cents"`
	Currency    string    `db:"currency"`
	RangeKM     int       `db:"range_km"`
	TopSpeedKMH int       `db:"top_speed_kmh"`
	BatteryKWH  float64   `db:"battery_kwh"`
	ImageKey    *string   `db:"image_key"`
	IsPublished bool      `db:"is_published"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// ListProductParams holds parameters for listing products
type ListProductParams struct {
	Page          int
	Limit         int
	PublishedOnly bool
	Search        string
}
