package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest HMAC secret NewJWTCodec accepts
const MinSecretLength = 32

// ErrWeakSecret is returned for secrets shorter than MinSecretLength
var ErrWeakSecret = errors.New("session secret must be at least 32 bytes")

// claims is the signed payload. The issue time is kept in milliseconds so the
// gate can compare session age with millisecond precision.
type claims struct {
	Username   string `json:"username"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	IssuedAtMS int64  `json:"iat_ms"`
	jwt.RegisteredClaims
}

// JWTCodec encodes sessions as HS256-signed JWTs. Expiry is not embedded in the
// token; the gate enforces the maximum age itself.
type JWTCodec struct {
	secret []byte
	issuer string
}

// NewJWTCodec creates a JWTCodec
func NewJWTCodec(secret, issuer string) (*JWTCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTCodec{secret: []byte(secret), issuer: issuer}, nil
}

// Encode signs s
func (c *JWTCodec) Encode(s Session) (string, error) {
	if s.PrincipalID == uuid.Nil || s.Username == "" {
		return "", fmt.Errorf("%w: principal and username are required", ErrInvalidSession)
	}
	if s.IssuedAt.IsZero() {
		return "", fmt.Errorf("%w: issue time is required", ErrInvalidSession)
	}

	cl := claims{
		Username:   s.Username,
		Email:      s.Email,
		Role:       s.Role,
		IssuedAtMS: s.IssuedAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   c.issuer,
			Subject:  s.PrincipalID.String(),
			IssuedAt: jwt.NewNumericDate(s.IssuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	return token.SignedString(c.secret)
}

// Decode verifies value and returns the session it carries
func (c *JWTCodec) Decode(value string) (Session, error) {
	if value == "" {
		return Session{}, fmt.Errorf("%w: empty value", ErrInvalidSession)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var cl claims
	token, err := jwt.ParseWithClaims(value, &cl, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !token.Valid {
		return Session{}, ErrInvalidSession
	}

	id, err := uuid.Parse(cl.Subject)
	if err != nil {
		return Session{}, fmt.Errorf("%w: bad subject", ErrInvalidSession)
	}
	if cl.Username == "" || cl.IssuedAtMS <= 0 {
		return Session{}, fmt.Errorf("%w: missing claims", ErrInvalidSession)
	}

	return Session{
		PrincipalID: id,
		Username:    cl.Username,
		Email:       cl.Email,
		Role:        cl.Role,
		IssuedAt:    time.UnixMilli(cl.IssuedAtMS).UTC(),
	}, nil
}
