package discovery

import (
	"context"
	"log/slog"
	"net/netip"
	"regexp"
	"time"
)

// DefaultPrivateTimeout bounds candidate gathering
const DefaultPrivateTimeout = 5 * time.Second

// CandidateSource starts a negotiation session that emits ICE candidate strings
type CandidateSource interface {
	Open(ctx context.Context) (CandidateSession, error)
}

// CandidateSession streams candidates. The channel is closed when gathering completes.
// Close must be safe to call at any time and more than once.
type CandidateSession interface {
	Candidates() <-chan string
	Close() error
}

var ipv4Pattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

var privateRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
}

// PrivateDiscoverer returns the first private IPv4 address found in a candidate.
// On multi-homed hosts which interface wins depends on gathering order.
type PrivateDiscoverer struct {
	source  CandidateSource
	timeout time.Duration
	logger  *slog.Logger
}

// NewPrivateDiscoverer creates a PrivateDiscoverer
func NewPrivateDiscoverer(source CandidateSource, timeout time.Duration, logger *slog.Logger) *PrivateDiscoverer {
	if timeout <= 0 {
		timeout = DefaultPrivateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PrivateDiscoverer{source: source, timeout: timeout, logger: logger}
}

// Discover opens a session, waits for a private candidate and always closes the session
func (d *PrivateDiscoverer) Discover(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	sess, err := d.source.Open(ctx)
	if err != nil {
		d.logger.Debug("Candidate session failed to open", "error", err)
		return "", ErrNoPrivateAddress
	}
	defer func() {
		if err := sess.Close(); err != nil {
			d.logger.Debug("Candidate session close failed", "error", err)
		}
	}()

	candidates := sess.Candidates()
	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("Private discovery timed out", "timeout", d.timeout)
			return "", ErrNoPrivateAddress
		case c, ok := <-candidates:
			if !ok {
				return "", ErrNoPrivateAddress
			}
			if addr, found := PrivateIPv4(c); found {
				return addr, nil
			}
		}
	}
}

// PrivateIPv4 returns the first private IPv4 address embedded in s
func PrivateIPv4(s string) (string, bool) {
	for _, m := range ipv4Pattern.FindAllString(s, -1) {
		addr, err := netip.ParseAddr(m)
		if err != nil {
			continue
		}
		for _, p := range privateRanges {
			if p.Contains(addr) {
				return addr.String(), true
			}
		}
	}
	return "", false
}
