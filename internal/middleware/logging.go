// Package middleware provides HTTP middleware for the site backend: request logging,
// the admin gate and per-IP rate limiting.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/voltmoto/site/backend/internal/logger"
)

// Route areas attached to every request log line
const (
	AreaAdmin         = "admin"
	AreaLogin         = "admin_login"
	AreaAuthorization = "authorization"
	AreaAPI           = "api"
	AreaProbe         = "probe"
	AreaSite          = "site"
)

// RequestLogger writes one structured line per request. Lines carry the route area so
// gate traffic can be filtered from catalogue traffic, and health and metrics scrapes
// are logged at debug level.
type RequestLogger struct {
	logger          *slog.Logger
	protectedPrefix string
}

// NewRequestLogger creates a RequestLogger. protectedPrefix is the gate's prefix.
func NewRequestLogger(log *slog.Logger, protectedPrefix string) *RequestLogger {
	if log == nil {
		log = slog.Default()
	}
	return &RequestLogger{
		logger:          log,
		protectedPrefix: "/" + strings.Trim(protectedPrefix, "/"),
	}
}

// Area classifies path for logging
func (m *RequestLogger) Area(path string) string {
	switch {
	case path == m.protectedPrefix || path == m.protectedPrefix+"/":
		return AreaLogin
	case strings.HasPrefix(path, m.protectedPrefix+"/"):
		return AreaAdmin
	case strings.HasPrefix(path, "/authorization/"):
		return AreaAuthorization
	case strings.HasPrefix(path, "/api/"):
		return AreaAPI
	case path == "/metrics" || strings.HasPrefix(path, "/health"):
		return AreaProbe
	default:
		return AreaSite
	}
}

// Handler is the middleware
func (m *RequestLogger) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())
		r = r.WithContext(logger.SetCorrelationID(r.Context(), requestID))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		area := m.Area(r.URL.Path)
		status := ww.Status()
		attrs := []any{
			slog.String("correlation_id", requestID),
			slog.String("area", area),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_ip", ConnectionIP(r)),
			slog.String("user_agent", r.UserAgent()),
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			attrs = append(attrs, slog.String("forwarded_for", xff))
		}
		if area == AreaAdmin && status == http.StatusSeeOther {
			attrs = append(attrs, slog.String("redirect", ww.Header().Get("Location")))
		}

		switch {
		case status >= 500:
			m.logger.Error("HTTP request failed", attrs...)
		case status == http.StatusTooManyRequests:
			m.logger.Warn("HTTP request rate limited", attrs...)
		case status == http.StatusForbidden && area == AreaAuthorization:
			m.logger.Warn("Address denied at the admin gate", attrs...)
		case status >= 400:
			m.logger.Warn("HTTP request completed with client error", attrs...)
		case area == AreaProbe:
			m.logger.Debug("HTTP request completed", attrs...)
		default:
			m.logger.Info("HTTP request completed", attrs...)
		}
	})
}
