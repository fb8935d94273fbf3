// Package session defines the admin session carried in the admin_session cookie
// and the codec that turns it into an opaque, signed cookie value.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidSession is returned when a cookie value cannot be decoded into a Session
var ErrInvalidSession = errors.New("invalid session")

// Session identifies an authenticated administrator. It is never persisted server-side.
type Session struct {
	PrincipalID uuid.UUID
	Username    string
	Email       string
	Role        string
	IssuedAt    time.Time
}

// Age returns how long ago the session was issued
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.IssuedAt)
}

// Expired reports whether the session is strictly older than maxAge.
// A session exactly maxAge old is still valid.
func (s Session) Expired(now time.Time, maxAge time.Duration) bool {
	return s.Age(now) > maxAge
}

// Codec serializes sessions to and from cookie values
type Codec interface {
	Encode(s Session) (string, error)
	Decode(value string) (Session, error)
}
