package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"

	"github.com/voltmoto/site/backend/internal/directory"
	"github.com/voltmoto/site/backend/internal/repository"
	"github.com/voltmoto/site/backend/internal/session"
	"github.com/voltmoto/site/backend/internal/tasks"
)

// mockChecker implements AddressChecker with a fixed allow list
type mockChecker struct {
	mu      sync.Mutex
	allowed map[string]string
	err     error
	calls   int
}

func (m *mockChecker) Check(ctx context.Context, address, userAgent string) directory.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return directory.Result{Address: address, Reason: repository.ReasonNotFound, Err: m.err}
	}
	if name, ok := m.allowed[address]; ok {
		return directory.Result{Authorized: true, Address: address, Name: name}
	}
	return directory.Result{Address: address, Reason: repository.ReasonNotFound}
}

// mockPrincipalStore implements PrincipalStore for testing
type mockPrincipalStore struct {
	mu         sync.Mutex
	principals map[uuid.UUID]*repository.AdminPrincipal
	lookups    int
	lastLogin  map[uuid.UUID]time.Time
	err        error
}

func newMockPrincipalStore() *mockPrincipalStore {
	return &mockPrincipalStore{
		principals: make(map[uuid.UUID]*repository.AdminPrincipal),
		lastLogin:  make(map[uuid.UUID]time.Time),
	}
}

func (m *mockPrincipalStore) add(p *repository.AdminPrincipal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	m.principals[p.ID] = p
}

func (m *mockPrincipalStore) GetByLogin(ctx context.Context, identifier string) (*repository.AdminPrincipal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.principals {
		if strings.EqualFold(p.Username, identifier) || strings.EqualFold(p.Email, identifier) {
			return p, nil
		}
	}
	return nil, repository.ErrPrincipalNotFound
}

func (m *mockPrincipalStore) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLogin[id] = at
	return nil
}

// mockLockout keeps failure counts in memory
type mockLockout struct {
	mu       sync.Mutex
	failures map[string]int
	err      error
}

func newMockLockout() *mockLockout {
	return &mockLockout{failures: make(map[string]int)}
}

func (m *mockLockout) Failures(ctx context.Context, identifier string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.failures[identifier], nil
}

func (m *mockLockout) RecordFailure(ctx context.Context, identifier, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[identifier]++
	return nil
}

func (m *mockLockout) Reset(ctx context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, identifier)
	return nil
}

const (
	testPassword = "Correct-Horse-9"
	testSecret   = "auth-test-session-secret-32-bytes!"
)

type testEnv struct {
	service    *Service
	checker    *mockChecker
	principals *mockPrincipalStore
	lockout    *mockLockout
	runner     *tasks.Runner
	codec      *session.JWTCodec
	admin      *repository.AdminPrincipal
}

func newTestEnv(t interface{ Fatalf(string, ...any) }) *testEnv {
	passwords := NewPasswords(bcrypt.MinCost)
	hash, err := passwords.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	codec, err := session.NewJWTCodec(testSecret, "motosite-admin")
	if err != nil {
		t.Fatalf("codec failed: %v", err)
	}

	env := &testEnv{
		checker:    &mockChecker{allowed: map[string]string{"198.51.100.2": "office"}},
		principals: newMockPrincipalStore(),
		lockout:    newMockLockout(),
		runner:     tasks.NewRunner(nil, time.Second),
		codec:      codec,
		admin: &repository.AdminPrincipal{
			Username:     "rider",
			Email:        "rider@voltmoto.example",
			PasswordHash: hash,
			Role:         "admin",
			IsActive:     true,
		},
	}
	env.principals.add(env.admin)
	env.service = NewService(env.checker, env.principals, env.lockout, codec, passwords, env.runner,
		Config{MaxFailedAttempts: 3, LockoutDuration: 15 * time.Minute}, nil)
	return env
}

func TestLoginSuccessIssuesSession(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.service.Login(context.Background(), LoginRequest{
		Username: "rider", Password: testPassword, Address: "198.51.100.2",
	}, "198.51.100.2", "test-agent")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	env.runner.Wait()

	if result.Principal.ID != env.admin.ID {
		t.Errorf("wrong principal returned")
	}
	decoded, err := env.codec.Decode(result.Token)
	if err != nil {
		t.Fatalf("issued token does not decode: %v", err)
	}
	if decoded.PrincipalID != env.admin.ID || decoded.Username != "rider" || decoded.Role != "admin" {
		t.Errorf("unexpected session %+v", decoded)
	}
	if _, ok := env.principals.lastLogin[env.admin.ID]; !ok {
		t.Error("last login should have been updated")
	}
}

func TestLoginByEmailIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Login(context.Background(), LoginRequest{
		Username: "  RIDER@voltmoto.example ", Password: testPassword, Address: "198.51.100.2",
	}, "", "")
	if err != nil {
		t.Fatalf("login by email failed: %v", err)
	}
	env.runner.Wait()
}

func TestLoginDeniedAddressShortCircuits(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Login(context.Background(), LoginRequest{
		Username: "rider", Password: testPassword, Address: "203.0.113.7",
	}, "203.0.113.7", "")
	if !errors.Is(err, ErrAddressNotAuthorized) {
		t.Fatalf("expected ErrAddressNotAuthorized, got %v", err)
	}
	if env.principals.lookups != 0 {
		t.Error("credentials must not be looked at when the address is denied")
	}
	if env.lockout.failures["rider"] != 0 {
		t.Error("address denial must not count as a credential failure")
	}
}

func TestLoginDirectoryErrorIsInternal(t *testing.T) {
	env := newTestEnv(t)
	env.checker.err = errors.New("db down")

	_, err := env.service.Login(context.Background(), LoginRequest{
		Username: "rider", Password: testPassword, Address: "198.51.100.2",
	}, "", "")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if env.principals.lookups != 0 {
		t.Error("credentials must not be looked at when the directory fails")
	}
}

func TestLoginWithoutAddressSkipsDirectory(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.service.Login(context.Background(), LoginRequest{Username: "rider", Password: testPassword}, "127.0.0.1", ""); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	env.runner.Wait()
	if env.checker.calls != 0 {
		t.Error("directory should not be consulted without an address")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := newTestEnv(t)

		username := rapid.SampledFrom([]string{"rider", "nobody", "rider@voltmoto.example"}).Draw(t, "username")
		password := rapid.StringMatching(`[A-Za-z0-9!-]{1,20}`).Filter(func(s string) bool { return s != testPassword }).Draw(t, "password")

		_, err := env.service.Login(context.Background(), LoginRequest{
			Username: username, Password: password, Address: "198.51.100.2",
		}, "198.51.100.2", "")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials for %q, got %v", username, err)
		}
		key := username
		if username != "nobody" {
			key = "rider"
		}
		if env.lockout.failures[key] != 1 {
			t.Fatalf("failure for %q should have been recorded once under %q", username, key)
		}
	})
}

func TestLoginInactivePrincipalRejected(t *testing.T) {
	env := newTestEnv(t)
	env.admin.IsActive = false

	_, err := env.service.Login(context.Background(), LoginRequest{
		Username: "rider", Password: testPassword, Address: "198.51.100.2",
	}, "", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginLockout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := LoginRequest{Username: "rider", Password: "wrong-password", Address: "198.51.100.2"}

	for i := 0; i < 3; i++ {
		if _, err := env.service.Login(ctx, req, "", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	req.Password = testPassword
	if _, err := env.service.Login(ctx, req, "", ""); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts even with the right password, got %v", err)
	}
}

func TestLoginUsernameAndEmailShareLockout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, login := range []string{"rider", "RIDER@voltmoto.example", "rider"} {
		req := LoginRequest{Username: login, Password: "wrong-password", Address: "198.51.100.2"}
		if _, err := env.service.Login(ctx, req, "", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("login %q: expected ErrInvalidCredentials, got %v", login, err)
		}
	}

	req := LoginRequest{Username: "rider@voltmoto.example", Password: testPassword, Address: "198.51.100.2"}
	if _, err := env.service.Login(ctx, req, "", ""); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("switching to the e-mail address must not reset the budget, got %v", err)
	}
	if _, ok := env.lockout.failures["rider@voltmoto.example"]; ok {
		t.Error("failures should be counted under the username only")
	}
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _ = env.service.Login(ctx, LoginRequest{Username: "rider", Password: "nope", Address: "198.51.100.2"}, "", "")
	if env.lockout.failures["rider"] != 1 {
		t.Fatal("expected one recorded failure")
	}

	if _, err := env.service.Login(ctx, LoginRequest{Username: "rider", Password: testPassword, Address: "198.51.100.2"}, "", ""); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	env.runner.Wait()
	if env.lockout.failures["rider"] != 0 {
		t.Error("failures should be cleared after success")
	}
}

func TestLoginLockoutStoreErrorFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	env.lockout.err = errors.New("redis down")

	_, err := env.service.Login(context.Background(), LoginRequest{
		Username: "rider", Password: testPassword, Address: "198.51.100.2",
	}, "", "")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
}

func TestPostgresLockoutWindow(t *testing.T) {
	store := &fakeFailedAttemptStore{}
	l := NewPostgresLockout(store, 15*time.Minute)
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if _, err := l.Failures(context.Background(), "rider"); err != nil {
		t.Fatal(err)
	}
	if !store.since.Equal(now.Add(-15 * time.Minute)) {
		t.Errorf("expected window start %v, got %v", now.Add(-15*time.Minute), store.since)
	}
	if _, err := l.Prune(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !store.before.Equal(now.Add(-15 * time.Minute)) {
		t.Errorf("expected prune cutoff %v, got %v", now.Add(-15*time.Minute), store.before)
	}
}

type fakeFailedAttemptStore struct {
	since  time.Time
	before time.Time
}

func (f *fakeFailedAttemptStore) CountFailedAttempts(ctx context.Context, identifier string, since time.Time) (int, error) {
	f.since = since
	return 0, nil
}

func (f *fakeFailedAttemptStore) RecordFailedAttempt(ctx context.Context, identifier, ip string) error {
	return nil
}

func (f *fakeFailedAttemptStore) ClearFailedAttempts(ctx context.Context, identifier string) error {
	return nil
}

func (f *fakeFailedAttemptStore) CleanupOldFailedAttempts(ctx context.Context, before time.Time) (int64, error) {
	f.before = before
	return 0, nil
}
