package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPublicDiscovererJSON(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer srv.Close()

	addr, err := NewPublicDiscoverer(srv.URL, srv.Client()).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", addr)
	assert.Equal(t, int32(1), hits.Load())
}

func TestPublicDiscovererPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("2001:db8::7\n"))
	}))
	defer srv.Close()

	addr, err := NewPublicDiscoverer(srv.URL, srv.Client()).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::7", addr)
}

func TestPublicDiscovererFailuresDoNotRetry(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		"not an ip":    func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"ip":"nope"}`)) },
		"broken json":  func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"ip":`)) },
	}

	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				h(w, r)
			}))
			defer srv.Close()

			_, err := NewPublicDiscoverer(srv.URL, srv.Client()).Discover(context.Background())
			assert.ErrorIs(t, err, ErrDiscoveryFailed)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestPublicDiscovererUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewPublicDiscoverer(url, nil).Discover(context.Background())
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
}

// fakeSource emits a fixed list of candidates and records teardown
type fakeSource struct {
	candidates []string
	complete   bool
	openErr    error
	closed     atomic.Int32
}

type fakeSession struct {
	ch     chan string
	source *fakeSource
}

func (s *fakeSource) Open(ctx context.Context) (CandidateSession, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	ch := make(chan string, len(s.candidates))
	for _, c := range s.candidates {
		ch <- c
	}
	if s.complete {
		close(ch)
	}
	return &fakeSession{ch: ch, source: s}, nil
}

func (f *fakeSession) Candidates() <-chan string { return f.ch }

func (f *fakeSession) Close() error {
	f.source.closed.Add(1)
	return nil
}

func TestPrivateDiscovererFirstPrivateWins(t *testing.T) {
	src := &fakeSource{candidates: []string{
		"candidate:1 1 udp 2130706431 203.0.113.7 50000 typ srflx",
		"candidate:2 1 udp 2130706431 fe80::1 50001 typ host",
		"candidate:3 1 udp 2130706431 192.168.1.23 50002 typ host",
		"candidate:4 1 udp 2130706431 10.0.0.5 50003 typ host",
	}}

	addr, err := NewPrivateDiscoverer(src, time.Second, nil).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.23", addr)
	assert.Equal(t, int32(1), src.closed.Load())
}

func TestPrivateDiscovererGatheringCompleteWithoutMatch(t *testing.T) {
	src := &fakeSource{
		candidates: []string{"candidate:1 1 udp 1 abcd.local 5000 typ host", "candidate:2 1 udp 1 198.51.100.2 5001 typ srflx"},
		complete:   true,
	}

	_, err := NewPrivateDiscoverer(src, time.Second, nil).Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoPrivateAddress)
	assert.Equal(t, int32(1), src.closed.Load())
}

func TestPrivateDiscovererTimesOut(t *testing.T) {
	src := &fakeSource{}

	start := time.Now()
	_, err := NewPrivateDiscoverer(src, 30*time.Millisecond, nil).Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoPrivateAddress)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), src.closed.Load())
}

func TestPrivateDiscovererOpenFailure(t *testing.T) {
	src := &fakeSource{openErr: errors.New("no interfaces")}

	_, err := NewPrivateDiscoverer(src, time.Second, nil).Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoPrivateAddress)
}

func TestPrivateIPv4Ranges(t *testing.T) {
	cases := map[string]string{
		"10.1.2.3":       "10.1.2.3",
		"172.16.0.1":     "172.16.0.1",
		"172.31.255.254": "172.31.255.254",
		"192.168.0.10":   "192.168.0.10",
		"172.32.0.1":     "",
		"172.15.9.9":     "",
		"8.8.8.8":        "",
		"999.1.1.1":      "",
		"100.64.0.1":     "",
	}
	for in, want := range cases {
		got, ok := PrivateIPv4("candidate:0 1 udp 1 " + in + " 9 typ host")
		assert.Equal(t, want != "", ok, in)
		assert.Equal(t, want, got, in)
	}
}

func TestPrivateIPv4NeverReturnsPublicAddress(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		octets := rapid.SliceOfN(rapid.IntRange(0, 255), 4, 4).Draw(t, "octets")
		s := rapid.StringMatching(`[a-z :]{0,10}`).Draw(t, "prefix")
		ip := [4]byte{byte(octets[0]), byte(octets[1]), byte(octets[2]), byte(octets[3])}
		want := netip.AddrFrom4(ip).String()

		candidate := s + " " + want + " typ host"
		got, ok := PrivateIPv4(candidate)

		private := ip[0] == 10 || (ip[0] == 172 && ip[1] >= 16 && ip[1] <= 31) || (ip[0] == 192 && ip[1] == 168)
		if ok != private {
			t.Fatalf("candidate %q: private=%v but found=%v", candidate, private, ok)
		}
		if ok && got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	})
}
