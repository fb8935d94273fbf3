package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes mounts the public /authorization endpoints. limit guards every
// route in the group; pass nil to disable rate limiting.
func RegisterRoutes(r chi.Router, handler *Handler, limit Middleware) {
	r.Route("/authorization", func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/check-address", handler.CheckAddress)
		r.Get("/public-ip", handler.PublicIP)
		r.Post("/login", handler.Login)
		r.Delete("/login", handler.Logout)
	})
}

// RegisterAdminRoutes mounts the login landing page, the dashboard and the session
// endpoint under the protected prefix. api, when set, adds more routes to the /api
// group. The caller applies the gate.
func RegisterAdminRoutes(r chi.Router, handler *Handler, api func(r chi.Router)) {
	r.Get("/", handler.LoginPage)
	r.Get("/dashboard", handler.Dashboard)
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", handler.Me)
		if api != nil {
			api(r)
		}
	})
}
