package session

import (
	"net/http"
	"time"
)

// Cookie names
const (
	CookieName       = "admin_session"
	DeviceCookieName = "device_authorized"
)

// CookieConfig controls cookie attributes
type CookieConfig struct {
	Secure     bool
	SessionTTL time.Duration
	DeviceTTL  time.Duration
}

// DefaultCookieConfig returns a 24h session and a 30 day device marker
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		SessionTTL: 24 * time.Hour,
		DeviceTTL:  30 * 24 * time.Hour,
	}
}

// SetSessionCookie writes the admin_session cookie
func SetSessionCookie(w http.ResponseWriter, cfg CookieConfig, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// SetDeviceCookie marks the browser as having completed a login from an authorized address
func SetDeviceCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    "true",
		Path:     "/",
		MaxAge:   int(cfg.DeviceTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie expires the admin_session cookie
func ClearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
