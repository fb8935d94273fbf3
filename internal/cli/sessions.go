package cli

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService names gatectl's entries in the OS keyring
const KeyringService = "motosite-gatectl"

// ErrNoSession is returned when no session is stored for a server
var ErrNoSession = errors.New("no stored session for server")

// SessionStore persists admin session cookies per server
type SessionStore interface {
	Save(server, cookie string) error
	Load(server string) (string, error)
	Delete(server string) error
}

// KeyringSessions keeps session cookies in the OS keyring, one entry per server origin
type KeyringSessions struct {
	service string
}

// NewKeyringSessions creates a keyring-backed SessionStore
func NewKeyringSessions(service string) *KeyringSessions {
	return &KeyringSessions{service: service}
}

// Save stores cookie for server, replacing any previous value
func (k *KeyringSessions) Save(server, cookie string) error {
	if err := keyring.Set(k.service, serverKey(server), cookie); err != nil {
		return fmt.Errorf("failed to save session to keyring: %w", err)
	}
	return nil
}

// Load returns the stored cookie or ErrNoSession
func (k *KeyringSessions) Load(server string) (string, error) {
	v, err := keyring.Get(k.service, serverKey(server))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session from keyring: %w", err)
	}
	return v, nil
}

// Delete removes the stored cookie. A missing entry is not an error.
func (k *KeyringSessions) Delete(server string) error {
	err := keyring.Delete(k.service, serverKey(server))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete session from keyring: %w", err)
	}
	return nil
}

// serverKey reduces a server URL to scheme://host so trailing paths share one entry
func serverKey(server string) string {
	u, err := url.Parse(strings.TrimSpace(server))
	if err != nil || u.Host == "" {
		return strings.TrimRight(server, "/")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
