package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	appctx "github.com/voltmoto/site/backend/internal/context"
	"github.com/voltmoto/site/backend/internal/metrics"
	"github.com/voltmoto/site/backend/internal/session"
)

// Gate rejection reasons, used as metric labels
const (
	RejectMissing = "missing"
	RejectInvalid = "invalid"
	RejectExpired = "expired"
)

// DefaultProtectedPrefix replaces a prefix that would cover the whole site
const DefaultProtectedPrefix = "/admin"

// GateConfig configures the admin gate
type GateConfig struct {
	// ProtectedPrefix is the path prefix that requires a session. Its root is the login page.
	ProtectedPrefix string
	MaxAge          time.Duration
	Cookies         session.CookieConfig
	// Now defaults to time.Now
	Now func() time.Time
}

// Gate redirects requests under the protected prefix to the login page unless they
// carry a decodable admin_session cookie that is no older than MaxAge.
type Gate struct {
	codec  session.Codec
	cfg    GateConfig
	logger *slog.Logger
}

// NewGate creates a Gate
func NewGate(codec session.Codec, cfg GateConfig, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ProtectedPrefix = "/" + strings.Trim(cfg.ProtectedPrefix, "/")
	if cfg.ProtectedPrefix == "/" {
		logger.Warn("Protected prefix cannot be the site root, using default", "prefix", DefaultProtectedPrefix)
		cfg.ProtectedPrefix = DefaultProtectedPrefix
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gate{codec: codec, cfg: cfg, logger: logger}
}

// LoginPath returns the public login page under the protected prefix
func (g *Gate) LoginPath() string {
	return g.cfg.ProtectedPrefix
}

// Protect is the middleware
func (g *Gate) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.guards(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(session.CookieName)
		if err != nil || cookie.Value == "" {
			g.reject(w, r, RejectMissing, false)
			return
		}

		s, err := g.codec.Decode(cookie.Value)
		if err != nil {
			g.reject(w, r, RejectInvalid, true)
			return
		}

		if s.Expired(g.cfg.Now(), g.cfg.MaxAge) {
			g.reject(w, r, RejectExpired, true)
			return
		}

		next.ServeHTTP(w, r.WithContext(appctx.WithSession(r.Context(), s)))
	})
}

// guards reports whether path is under the prefix and is not the login page
func (g *Gate) guards(path string) bool {
	prefix := g.cfg.ProtectedPrefix
	if path == prefix || path == prefix+"/" {
		return false
	}
	return strings.HasPrefix(path, prefix+"/")
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, reason string, clear bool) {
	metrics.GateRejections.WithLabelValues(reason).Inc()
	g.logger.Debug("Admin gate rejected request", "path", r.URL.Path, "reason", reason)

	if clear {
		session.ClearSessionCookie(w, g.cfg.Cookies)
	}
	http.Redirect(w, r, g.LoginPath(), http.StatusSeeOther)
}
