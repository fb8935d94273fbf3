// Package gateflow drives the admin login as a client sees it: discover the
// address, ask the directory, then log in or get sent away.
package gateflow

import (
	"errors"
	"fmt"
)

// State is a step of the admin login flow
type State string

const (
	StateDiscoveringIP         State = "DISCOVERING_IP"
	StateCheckingAuthorization State = "CHECKING_AUTHORIZATION"
	StateAuthorized            State = "AUTHORIZED"
	StateDenied                State = "DENIED"
	StateLoginForm             State = "LOGIN_FORM"
	StateLoginSuccess          State = "LOGIN_SUCCESS"
	StateLoginFailure          State = "LOGIN_FAILURE"
)

// ErrInvalidTransition is returned for a move the transition table does not allow
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions lists the allowed next states. DENIED and LOGIN_SUCCESS are terminal.
// LOGIN_FORM may fall back to DENIED when the re-check on submit fails.
var transitions = map[State][]State{
	StateDiscoveringIP:         {StateCheckingAuthorization, StateDenied},
	StateCheckingAuthorization: {StateAuthorized, StateDenied},
	StateAuthorized:            {StateLoginForm},
	StateLoginForm:             {StateLoginSuccess, StateLoginFailure, StateDenied},
	StateLoginFailure:          {StateLoginForm},
}

// CanTransition reports whether from may move to to
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
