package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"pgregory.net/rapid"
)

const testSecret = "test-session-secret-32-bytes-long!"

type fataler interface {
	Fatalf(format string, args ...any)
}

func newTestCodec(t fataler) *JWTCodec {
	codec, err := NewJWTCodec(testSecret, "motosite-admin")
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	return codec
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		codec := newTestCodec(t)
		in := Session{
			PrincipalID: uuid.New(),
			Username:    rapid.StringMatching(`[a-z][a-z0-9_]{2,15}`).Draw(t, "username"),
			Email:       rapid.StringMatching(`[a-z]{3,8}@[a-z]{3,8}\.com`).Draw(t, "email"),
			Role:        rapid.SampledFrom([]string{"admin", "editor"}).Draw(t, "role"),
			IssuedAt:    time.UnixMilli(rapid.Int64Range(1, 4102444800000).Draw(t, "iatMs")).UTC(),
		}

		value, err := codec.Encode(in)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		out, err := codec.Decode(value)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if out != in {
			t.Fatalf("round trip mismatch: %+v != %+v", out, in)
		}
	})
}

func TestEncodeKeepsMillisecondPrecision(t *testing.T) {
	codec := newTestCodec(t)
	issued := time.Date(2026, 1, 2, 3, 4, 5, 678_900_000, time.UTC)

	value, err := codec.Encode(Session{PrincipalID: uuid.New(), Username: "rider", IssuedAt: issued})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := codec.Decode(value)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !out.IssuedAt.Equal(issued.Truncate(time.Millisecond)) {
		t.Errorf("expected %v, got %v", issued.Truncate(time.Millisecond), out.IssuedAt)
	}
}

func TestDecodeRejectsTamperedValues(t *testing.T) {
	codec := newTestCodec(t)
	value, err := codec.Encode(Session{PrincipalID: uuid.New(), Username: "rider", IssuedAt: time.Now()})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	parts := strings.Split(value, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	other, err := NewJWTCodec("another-secret-that-is-32-bytes-long", "motosite-admin")
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	foreign, _ := other.Encode(Session{PrincipalID: uuid.New(), Username: "rider", IssuedAt: time.Now()})

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": uuid.NewString(), "username": "rider", "iat_ms": time.Now().UnixMilli(), "iss": "motosite-admin",
	})
	noneValue, _ := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-session",
		"tampered":       tampered,
		"foreign secret": foreign,
		"alg none":       noneValue,
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := codec.Decode(v); !errors.Is(err, ErrInvalidSession) {
				t.Errorf("expected ErrInvalidSession, got %v", err)
			}
		})
	}
}

func TestDecodeRejectsWrongIssuer(t *testing.T) {
	codec := newTestCodec(t)
	other, _ := NewJWTCodec(testSecret, "someone-else")
	value, _ := other.Encode(Session{PrincipalID: uuid.New(), Username: "rider", IssuedAt: time.Now()})

	if _, err := codec.Decode(value); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected ErrInvalidSession, got %v", err)
	}
}

func TestNewJWTCodecRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTCodec("short", ""); !errors.Is(err, ErrWeakSecret) {
		t.Errorf("expected ErrWeakSecret, got %v", err)
	}
}

func TestEncodeRequiresIdentity(t *testing.T) {
	codec := newTestCodec(t)
	if _, err := codec.Encode(Session{Username: "rider", IssuedAt: time.Now()}); err == nil {
		t.Error("expected error for missing principal")
	}
	if _, err := codec.Encode(Session{PrincipalID: uuid.New(), IssuedAt: time.Now()}); err == nil {
		t.Error("expected error for missing username")
	}
	if _, err := codec.Encode(Session{PrincipalID: uuid.New(), Username: "rider"}); err == nil {
		t.Error("expected error for missing issue time")
	}
}

func TestExpiredBoundary(t *testing.T) {
	issued := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := Session{IssuedAt: issued}
	maxAge := 24 * time.Hour

	if s.Expired(issued.Add(maxAge-time.Millisecond), maxAge) {
		t.Error("session just under max age must be valid")
	}
	if s.Expired(issued.Add(maxAge), maxAge) {
		t.Error("session exactly at max age must be valid")
	}
	if !s.Expired(issued.Add(maxAge+time.Millisecond), maxAge) {
		t.Error("session past max age must be expired")
	}
}

func TestCookies(t *testing.T) {
	cfg := DefaultCookieConfig()
	cfg.Secure = true
	rec := httptest.NewRecorder()

	SetSessionCookie(rec, cfg, "token-value")
	SetDeviceCookie(rec, cfg)

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}

	s := cookies[CookieName]
	if s == nil || s.Value != "token-value" || !s.HttpOnly || !s.Secure || s.SameSite != http.SameSiteStrictMode || s.Path != "/" {
		t.Fatalf("unexpected session cookie: %+v", s)
	}
	if s.MaxAge != 86400 {
		t.Errorf("expected 24h session cookie, got %d", s.MaxAge)
	}

	d := cookies[DeviceCookieName]
	if d == nil || d.Value != "true" || d.MaxAge != 30*86400 {
		t.Fatalf("unexpected device cookie: %+v", d)
	}

	rec = httptest.NewRecorder()
	ClearSessionCookie(rec, cfg)
	cleared := rec.Result().Cookies()
	if len(cleared) != 1 || cleared[0].Name != CookieName || cleared[0].MaxAge >= 0 || cleared[0].Value != "" {
		t.Fatalf("unexpected cleared cookie: %+v", cleared)
	}
}
