package gateflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voltmoto/site/backend/internal/discovery"
)

// DefaultDeniedRedirectDelay is how long a denied client sees its address before
// being sent to the neutral page
const DefaultDeniedRedirectDelay = 3 * time.Second

// ErrDenied is returned by SubmitLogin when the address is no longer authorized
var ErrDenied = errors.New("address not authorized")

// Navigator moves the client to another page
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// Config controls the flow's destinations and timing
type Config struct {
	DeniedRedirectDelay time.Duration
	NotFoundPath        string
	SuccessPath         string
}

// DefaultConfig returns a 3 second denied delay, /404 and /admin/dashboard
func DefaultConfig() Config {
	return Config{
		DeniedRedirectDelay: DefaultDeniedRedirectDelay,
		NotFoundPath:        "/404",
		SuccessPath:         "/admin/dashboard",
	}
}

// Flow is one pass through the admin login
type Flow struct {
	discoverer discovery.Discoverer
	client     *Client
	nav        Navigator
	cfg        Config
	logger     *slog.Logger

	mu      sync.Mutex
	state   State
	address string
	device  string
	lastErr error
	user    *User
	timer   *time.Timer
}

// NewFlow creates a Flow in DISCOVERING_IP
func NewFlow(discoverer discovery.Discoverer, client *Client, nav Navigator, cfg Config, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.DeniedRedirectDelay <= 0 {
		cfg.DeniedRedirectDelay = def.DeniedRedirectDelay
	}
	if cfg.NotFoundPath == "" {
		cfg.NotFoundPath = def.NotFoundPath
	}
	if cfg.SuccessPath == "" {
		cfg.SuccessPath = def.SuccessPath
	}
	return &Flow{
		discoverer: discoverer,
		client:     client,
		nav:        nav,
		cfg:        cfg,
		logger:     logger,
		state:      StateDiscoveringIP,
	}
}

// State returns the current state
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Address returns the discovered address, shown to denied users for allow-listing
func (f *Flow) Address() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address
}

// DeviceName returns the directory name of an authorized address
func (f *Flow) DeviceName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.device
}

// Err returns the error behind the last DENIED or LOGIN_FAILURE
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// User returns the administrator after LOGIN_SUCCESS
func (f *Flow) User() *User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

func (f *Flow) moveTo(to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !CanTransition(f.state, to) {
		return transitionError(f.state, to)
	}
	f.state = to
	return nil
}

// Start runs discovery and the authorization check. It ends in LOGIN_FORM or DENIED.
func (f *Flow) Start(ctx context.Context) (State, error) {
	if s := f.State(); s != StateDiscoveringIP {
		return s, transitionError(s, StateCheckingAuthorization)
	}

	address, err := f.discoverer.Discover(ctx)
	if err != nil {
		f.logger.Warn("Address discovery failed", "error", err)
		return f.deny(err)
	}

	f.mu.Lock()
	f.address = address
	f.mu.Unlock()

	if err := f.moveTo(StateCheckingAuthorization); err != nil {
		return f.State(), err
	}

	result, err := f.client.CheckAddress(ctx, address)
	if err != nil {
		f.logger.Warn("Authorization check failed", "address", address, "error", err)
		return f.deny(err)
	}
	if !result.Authorized {
		return f.deny(ErrDenied)
	}

	f.mu.Lock()
	f.device = result.DeviceName
	f.mu.Unlock()

	if err := f.moveTo(StateAuthorized); err != nil {
		return f.State(), err
	}
	if err := f.moveTo(StateLoginForm); err != nil {
		return f.State(), err
	}
	return StateLoginForm, nil
}

// SubmitLogin re-checks the address and submits credentials. From LOGIN_FAILURE it
// returns to LOGIN_FORM first, so a failed login can be retried.
func (f *Flow) SubmitLogin(ctx context.Context, username, password string) (*User, error) {
	if f.State() == StateLoginFailure {
		if err := f.moveTo(StateLoginForm); err != nil {
			return nil, err
		}
	}
	if s := f.State(); s != StateLoginForm {
		return nil, transitionError(s, StateLoginSuccess)
	}

	address := f.Address()
	result, err := f.client.CheckAddress(ctx, address)
	if err != nil || !result.Authorized {
		if err == nil {
			err = ErrDenied
		}
		f.deny(err)
		return nil, ErrDenied
	}

	user, err := f.client.Login(ctx, username, password, address)
	if err != nil {
		f.mu.Lock()
		f.lastErr = err
		f.mu.Unlock()
		if mErr := f.moveTo(StateLoginFailure); mErr != nil {
			return nil, mErr
		}
		return nil, err
	}

	if err := f.moveTo(StateLoginSuccess); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.user = user
	f.lastErr = nil
	f.mu.Unlock()

	f.nav.Navigate(f.cfg.SuccessPath)
	return user, nil
}

// deny moves to DENIED and schedules the unconditional redirect
func (f *Flow) deny(cause error) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !CanTransition(f.state, StateDenied) {
		return f.state, transitionError(f.state, StateDenied)
	}
	f.state = StateDenied
	f.lastErr = cause
	f.timer = time.AfterFunc(f.cfg.DeniedRedirectDelay, func() {
		f.nav.Navigate(f.cfg.NotFoundPath)
	})
	return StateDenied, nil
}

// Close cancels a pending denied redirect
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}
