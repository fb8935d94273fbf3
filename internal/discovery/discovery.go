// Package discovery finds the addresses a gate client presents: the public egress
// address seen by an IP-echo service, and a private LAN address taken from ICE candidates.
package discovery

import (
	"context"
	"errors"
)

var (
	// ErrDiscoveryFailed is returned when the public address could not be determined
	ErrDiscoveryFailed = errors.New("public address discovery failed")
	// ErrNoPrivateAddress is returned when no private candidate appeared before the timeout
	// or gathering finished. It is a normal outcome on hosts that suppress candidates.
	ErrNoPrivateAddress = errors.New("no private address discovered")
)

// Discoverer returns one address
type Discoverer interface {
	Discover(ctx context.Context) (string, error)
}

// Func adapts a function to Discoverer
type Func func(ctx context.Context) (string, error)

// Discover calls f
func (f Func) Discover(ctx context.Context) (string, error) { return f(ctx) }
