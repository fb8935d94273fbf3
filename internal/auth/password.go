package auth

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the minimum length for administrator passwords
	MinPasswordLength = 12
	// DefaultBcryptCost is the bcrypt cost used for new hashes
	DefaultBcryptCost = 12
)

// FieldError is a validation failure for one request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Passwords validates, hashes and verifies administrator passwords
type Passwords struct {
	cost      int
	dummyHash []byte
}

// NewPasswords creates a Passwords helper. Cost values outside bcrypt's range fall back
// to DefaultBcryptCost.
func NewPasswords(cost int) *Passwords {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("motosite-dummy-password"), cost)
	if err != nil {
		panic(err)
	}
	return &Passwords{cost: cost, dummyHash: dummy}
}

// Validate checks password complexity and returns every failed rule
func (p *Passwords) Validate(password string) []FieldError {
	var errs []FieldError

	if len(password) < MinPasswordLength {
		errs = append(errs, FieldError{Field: "password", Message: "Password must be at least 12 characters long"})
	}
	if len(password) > 72 {
		errs = append(errs, FieldError{Field: "password", Message: "Password must not exceed 72 bytes"})
	}

	var hasUpper, hasLower, hasNumber bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsDigit(c):
			hasNumber = true
		}
	}

	if !hasUpper || !hasLower {
		errs = append(errs, FieldError{Field: "password", Message: "Password must mix upper and lower case letters"})
	}
	if !hasNumber {
		errs = append(errs, FieldError{Field: "password", Message: "Password must contain at least one number"})
	}
	return errs
}

// Hash creates a bcrypt hash
func (p *Passwords) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares password with hash in constant time
func (p *Passwords) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Burn spends the same time as a real comparison so unknown usernames are not
// distinguishable by latency.
func (p *Passwords) Burn(password string) {
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(password))
}
