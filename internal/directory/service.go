// Package directory decides whether an IP address may reach the admin login.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/voltmoto/site/backend/internal/metrics"
	"github.com/voltmoto/site/backend/internal/repository"
	"github.com/voltmoto/site/backend/internal/tasks"
)

// AddressStore is the part of the address repository the lookup needs
type AddressStore interface {
	GetByAddress(ctx context.Context, address string) (*repository.AuthorizedAddress, error)
	TouchLastAccess(ctx context.Context, address string, at time.Time) error
}

// AttemptRecorder appends to the access attempt log
type AttemptRecorder interface {
	Record(ctx context.Context, attempt *repository.AccessAttempt) error
}

// Result is the outcome of one authorization check.
// Err is set when the directory could not be consulted; Authorized is then false.
type Result struct {
	Authorized bool
	Address    string
	Name       string
	Reason     repository.DenialReason
	Err        error
}

// Service performs directory lookups and records every attempt
type Service struct {
	addresses AddressStore
	attempts  AttemptRecorder
	runner    *tasks.Runner
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source used for last-access and attempt timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a directory Service
func NewService(addresses AddressStore, attempts AttemptRecorder, runner *tasks.Runner, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = tasks.NewRunner(logger, 0)
	}
	s := &Service{
		addresses: addresses,
		attempts:  attempts,
		runner:    runner,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check looks up address. It never returns an error directly: lookup failures deny
// access and are reported through Result.Err.
func (s *Service) Check(ctx context.Context, address, userAgent string) Result {
	result := Result{Address: address}

	entry, err := s.addresses.GetByAddress(ctx, address)
	switch {
	case errors.Is(err, repository.ErrAddressNotFound):
		result.Reason = repository.ReasonNotFound
	case err != nil:
		s.logger.Error("Directory lookup failed", "address", address, "error", err)
		result.Reason = repository.ReasonNotFound
		result.Err = err
	case !entry.IsActive:
		result.Reason = repository.ReasonInactive
		result.Name = entry.Name
	default:
		result.Authorized = true
		result.Name = entry.Name
	}

	now := s.now()
	s.recordAttempt(ctx, result, userAgent, now)

	if result.Authorized {
		metrics.AuthorizationChecks.WithLabelValues("granted", "").Inc()
		if err := s.runner.Go(ctx, "touch_last_access", func(ctx context.Context) error {
			return s.addresses.TouchLastAccess(ctx, address, now)
		}); err != nil {
			s.logger.Warn("Could not schedule last-access update", "address", address, "error", err)
		}
	} else {
		metrics.AuthorizationChecks.WithLabelValues("denied", string(result.Reason)).Inc()
	}

	return result
}

func (s *Service) recordAttempt(ctx context.Context, result Result, userAgent string, at time.Time) {
	attempt := &repository.AccessAttempt{
		Address:     result.Address,
		Granted:     result.Authorized,
		AttemptedAt: at,
	}
	if !result.Authorized {
		reason := result.Reason
		attempt.Reason = &reason
	}
	if userAgent != "" {
		attempt.UserAgent = &userAgent
	}

	if err := s.runner.Go(ctx, "record_access_attempt", func(ctx context.Context) error {
		return s.attempts.Record(ctx, attempt)
	}); err != nil {
		s.logger.Warn("Could not schedule access attempt record", "address", result.Address, "error", err)
	}
}
