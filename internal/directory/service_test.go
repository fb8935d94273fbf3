package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/voltmoto/site/backend/internal/repository"
	"github.com/voltmoto/site/backend/internal/tasks"
)

// mockAddressStore is an in-memory AddressStore
type mockAddressStore struct {
	mu        sync.Mutex
	entries   map[string]*repository.AuthorizedAddress
	lookupErr error
	touchErr  error
	touched   map[string]time.Time
}

func newMockAddressStore() *mockAddressStore {
	return &mockAddressStore{
		entries: make(map[string]*repository.AuthorizedAddress),
		touched: make(map[string]time.Time),
	}
}

func (m *mockAddressStore) add(address, name string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[address] = &repository.AuthorizedAddress{Address: address, Name: name, IsActive: active}
}

func (m *mockAddressStore) GetByAddress(ctx context.Context, address string) (*repository.AuthorizedAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	entry, ok := m.entries[address]
	if !ok {
		return nil, repository.ErrAddressNotFound
	}
	copied := *entry
	return &copied, nil
}

func (m *mockAddressStore) TouchLastAccess(ctx context.Context, address string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touchErr != nil {
		return m.touchErr
	}
	m.touched[address] = at
	return nil
}

// mockAttemptRecorder collects recorded attempts
type mockAttemptRecorder struct {
	mu       sync.Mutex
	attempts []repository.AccessAttempt
	err      error
}

func (m *mockAttemptRecorder) Record(ctx context.Context, attempt *repository.AccessAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *mockAttemptRecorder) all() []repository.AccessAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.AccessAttempt(nil), m.attempts...)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(store *mockAddressStore, recorder *mockAttemptRecorder) (*Service, *tasks.Runner) {
	runner := tasks.NewRunner(nil, time.Second)
	svc := NewService(store, recorder, runner, nil, WithClock(func() time.Time { return fixedNow }))
	return svc, runner
}

func TestCheckActiveAddressIsAuthorized(t *testing.T) {
	store := newMockAddressStore()
	store.add("203.0.113.7", "Office Router", true)
	recorder := &mockAttemptRecorder{}
	svc, runner := newTestService(store, recorder)

	result := svc.Check(context.Background(), "203.0.113.7", "Mozilla/5.0")
	runner.Wait()

	assert.True(t, result.Authorized)
	assert.Equal(t, "Office Router", result.Name)
	assert.NoError(t, result.Err)

	attempts := recorder.all()
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Granted)
	assert.Nil(t, attempts[0].Reason)
	require.NotNil(t, attempts[0].UserAgent)
	assert.Equal(t, "Mozilla/5.0", *attempts[0].UserAgent)
	assert.Equal(t, fixedNow, store.touched["203.0.113.7"])
}

func TestCheckUnknownAddressIsDenied(t *testing.T) {
	store := newMockAddressStore()
	recorder := &mockAttemptRecorder{}
	svc, runner := newTestService(store, recorder)

	result := svc.Check(context.Background(), "198.51.100.2", "")
	runner.Wait()

	assert.False(t, result.Authorized)
	assert.Equal(t, repository.ReasonNotFound, result.Reason)
	assert.NoError(t, result.Err)

	attempts := recorder.all()
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Granted)
	require.NotNil(t, attempts[0].Reason)
	assert.Equal(t, repository.ReasonNotFound, *attempts[0].Reason)
	assert.Nil(t, attempts[0].UserAgent)
	assert.Empty(t, store.touched)
}

func TestCheckInactiveAddressIsDenied(t *testing.T) {
	store := newMockAddressStore()
	store.add("203.0.113.9", "Old Laptop", false)
	recorder := &mockAttemptRecorder{}
	svc, runner := newTestService(store, recorder)

	result := svc.Check(context.Background(), "203.0.113.9", "")
	runner.Wait()

	assert.False(t, result.Authorized)
	assert.Equal(t, repository.ReasonInactive, result.Reason)

	attempts := recorder.all()
	require.Len(t, attempts, 1)
	assert.Equal(t, repository.ReasonInactive, *attempts[0].Reason)
}

func TestCheckFailsClosedOnLookupError(t *testing.T) {
	store := newMockAddressStore()
	store.add("203.0.113.7", "Office Router", true)
	store.lookupErr = errors.New("connection refused")
	recorder := &mockAttemptRecorder{}
	svc, runner := newTestService(store, recorder)

	result := svc.Check(context.Background(), "203.0.113.7", "")
	runner.Wait()

	assert.False(t, result.Authorized)
	assert.Error(t, result.Err)
	require.Len(t, recorder.all(), 1)
	assert.False(t, recorder.all()[0].Granted)
}

func TestCheckIgnoresTouchAndRecordFailures(t *testing.T) {
	store := newMockAddressStore()
	store.add("203.0.113.7", "Office Router", true)
	store.touchErr = errors.New("write timeout")
	recorder := &mockAttemptRecorder{err: errors.New("disk full")}
	svc, runner := newTestService(store, recorder)

	result := svc.Check(context.Background(), "203.0.113.7", "")
	runner.Wait()

	assert.True(t, result.Authorized)
	assert.NoError(t, result.Err)
}

func TestCheckMatchesAddressVerbatim(t *testing.T) {
	store := newMockAddressStore()
	store.add("203.0.113.7", "Office Router", true)
	svc, runner := newTestService(store, &mockAttemptRecorder{})

	for _, variant := range []string{" 203.0.113.7", "203.0.113.07", "203.0.113.0/24", "::ffff:203.0.113.7"} {
		assert.False(t, svc.Check(context.Background(), variant, "").Authorized, variant)
	}
	runner.Wait()
}

func TestCheckIsIdempotentAndLogsEveryAttempt(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := newMockAddressStore()
		recorder := &mockAttemptRecorder{}

		known := rapid.SliceOfDistinct(
			rapid.StringMatching(`10\.0\.[0-9]{1,3}\.[0-9]{1,3}`),
			func(s string) string { return s },
		).Draw(t, "known")
		active := make(map[string]bool, len(known))
		for _, addr := range known {
			isActive := rapid.Bool().Draw(t, "active")
			active[addr] = isActive
			store.add(addr, "device", isActive)
		}

		probe := rapid.OneOf(
			rapid.SampledFrom(append(known, "192.0.2.1")),
			rapid.StringMatching(`172\.16\.[0-9]{1,3}\.[0-9]{1,3}`),
		).Draw(t, "probe")
		repeats := rapid.IntRange(1, 5).Draw(t, "repeats")

		svc, runner := newTestService(store, recorder)
		first := svc.Check(context.Background(), probe, "")
		for i := 1; i < repeats; i++ {
			again := svc.Check(context.Background(), probe, "")
			if again.Authorized != first.Authorized || again.Reason != first.Reason {
				t.Fatalf("check %d for %q changed outcome: %+v vs %+v", i, probe, again, first)
			}
		}
		runner.Wait()

		isActive, isKnown := active[probe]
		if first.Authorized != (isKnown && isActive) {
			t.Fatalf("address %q known=%v active=%v but authorized=%v", probe, isKnown, isActive, first.Authorized)
		}

		attempts := recorder.all()
		if len(attempts) != repeats {
			t.Fatalf("expected %d attempts, got %d", repeats, len(attempts))
		}
		for _, a := range attempts {
			if a.Granted != first.Authorized {
				t.Fatalf("attempt outcome %v does not match result %v", a.Granted, first.Authorized)
			}
			if !a.Granted && a.Reason == nil {
				t.Fatalf("denied attempt without reason")
			}
		}
	})
}
