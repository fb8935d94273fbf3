package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

// DefaultEchoURL answers with the caller's public address
const DefaultEchoURL = "https://api.ipify.org?format=json"

// PublicDiscoverer asks an IP-echo endpoint for the caller's public address.
// It makes exactly one request and never retries.
type PublicDiscoverer struct {
	url    string
	client *http.Client
}

// NewPublicDiscoverer creates a PublicDiscoverer. An empty url uses DefaultEchoURL,
// a nil client gets a 5 second timeout.
func NewPublicDiscoverer(url string, client *http.Client) *PublicDiscoverer {
	if url == "" {
		url = DefaultEchoURL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &PublicDiscoverer{url: url, client: client}
}

// Discover returns the public address. Responses may be JSON {"ip": "..."} or plain text.
func (d *PublicDiscoverer) Discover(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: echo service returned %d", ErrDiscoveryFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	raw := strings.TrimSpace(string(body))
	if strings.HasPrefix(raw, "{") {
		var payload struct {
			IP string `json:"ip"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", fmt.Errorf("%w: bad json: %v", ErrDiscoveryFailed, err)
		}
		raw = strings.TrimSpace(payload.IP)
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not an address", ErrDiscoveryFailed, raw)
	}
	return addr.String(), nil
}
