// Package auth implements the administrator login behind the IP gate: the address
// check, lockout, credential verification and session issuance, plus its HTTP handlers.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voltmoto/site/backend/internal/directory"
	"github.com/voltmoto/site/backend/internal/metrics"
	"github.com/voltmoto/site/backend/internal/repository"
	"github.com/voltmoto/site/backend/internal/session"
	"github.com/voltmoto/site/backend/internal/tasks"
)

// Login errors
var (
	ErrAddressRequired      = errors.New("address is required")
	ErrAddressNotAuthorized = errors.New("address not authorized")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrTooManyAttempts      = errors.New("too many failed login attempts")
	ErrInternal             = errors.New("internal error")
)

// Brute force protection defaults
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 15 * time.Minute
)

// AddressChecker is satisfied by directory.Service
type AddressChecker interface {
	Check(ctx context.Context, address, userAgent string) directory.Result
}

// PrincipalStore is the part of the principal repository login needs
type PrincipalStore interface {
	GetByLogin(ctx context.Context, identifier string) (*repository.AdminPrincipal, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// LoginRequest is the login payload
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
	Address  string `json:"address,omitempty" validate:"max=64"`
}

// LoginResult is returned on success
type LoginResult struct {
	Principal *repository.AdminPrincipal
	Session   session.Session
	Token     string
}

// Config holds the lockout policy
type Config struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// Service orchestrates admin login
type Service struct {
	addresses  AddressChecker
	principals PrincipalStore
	lockout    LockoutStore
	codec      session.Codec
	passwords  *Passwords
	runner     *tasks.Runner
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a login Service
func NewService(
	addresses AddressChecker,
	principals PrincipalStore,
	lockout LockoutStore,
	codec session.Codec,
	passwords *Passwords,
	runner *tasks.Runner,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = tasks.NewRunner(logger, 0)
	}
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = DefaultLockoutDuration
	}
	return &Service{
		addresses:  addresses,
		principals: principals,
		lockout:    lockout,
		codec:      codec,
		passwords:  passwords,
		runner:     runner,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// LockoutDuration is how long a locked identifier has to wait
func (s *Service) LockoutDuration() time.Duration {
	return s.cfg.LockoutDuration
}

// Login authenticates an administrator. When req.Address is set the directory check
// runs first and a denial ends the request before any credential work.
func (s *Service) Login(ctx context.Context, req LoginRequest, clientIP, userAgent string) (*LoginResult, error) {
	if req.Address != "" {
		check := s.addresses.Check(ctx, req.Address, userAgent)
		if check.Err != nil {
			metrics.LoginAttempts.WithLabelValues("error").Inc()
			return nil, ErrInternal
		}
		if !check.Authorized {
			metrics.LoginAttempts.WithLabelValues("address_denied").Inc()
			return nil, ErrAddressNotAuthorized
		}
	}

	identifier := strings.ToLower(strings.TrimSpace(req.Username))

	principal, err := s.principals.GetByLogin(ctx, identifier)
	if err != nil && !errors.Is(err, repository.ErrPrincipalNotFound) {
		s.logger.Error("Failed to load principal", "identifier", identifier, "error", err)
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, ErrInternal
	}
	key := budgetKey(identifier, principal)

	failures, err := s.lockout.Failures(ctx, key)
	if err != nil {
		s.logger.Error("Failed to read login failures", "identifier", key, "error", err)
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, ErrInternal
	}
	if failures >= s.cfg.MaxFailedAttempts {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		return nil, ErrTooManyAttempts
	}

	if principal == nil {
		s.passwords.Burn(req.Password)
		return nil, s.fail(ctx, key, clientIP)
	}
	if !s.passwords.Verify(req.Password, principal.PasswordHash) || !principal.IsActive {
		return nil, s.fail(ctx, key, clientIP)
	}

	if err := s.lockout.Reset(ctx, key); err != nil {
		s.logger.Warn("Failed to reset login failures", "identifier", key, "error", err)
	}

	now := s.now()
	sess := session.Session{
		PrincipalID: principal.ID,
		Username:    principal.Username,
		Email:       principal.Email,
		Role:        principal.Role,
		IssuedAt:    now,
	}
	token, err := s.codec.Encode(sess)
	if err != nil {
		s.logger.Error("Failed to encode session", "principal_id", principal.ID, "error", err)
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, ErrInternal
	}

	id := principal.ID
	if err := s.runner.Go(ctx, "update_last_login", func(ctx context.Context) error {
		return s.principals.UpdateLastLogin(ctx, id, now)
	}); err != nil {
		s.logger.Warn("Could not schedule last-login update", "principal_id", id, "error", err)
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	s.logger.Info("Administrator logged in", "principal_id", principal.ID, "client_ip", clientIP)

	return &LoginResult{Principal: principal, Session: sess, Token: token}, nil
}

// budgetKey is the principal's username when the identifier resolves, so username
// and e-mail logins share one failure budget. Unknown identifiers count on their own.
func budgetKey(identifier string, principal *repository.AdminPrincipal) string {
	if principal == nil {
		return identifier
	}
	return strings.ToLower(principal.Username)
}

// fail records a failed attempt and returns the generic credential error
func (s *Service) fail(ctx context.Context, identifier, clientIP string) error {
	if err := s.lockout.RecordFailure(ctx, identifier, clientIP); err != nil {
		s.logger.Warn("Failed to record login failure", "identifier", identifier, "error", err)
	}
	metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
	return ErrInvalidCredentials
}
