package api

import (
	"github.com/go-chi/chi/v5"
)

// RegisterPublicRoutes registers the catalogue read endpoints under /api/v1
func RegisterPublicRoutes(r chi.Router, products *ProductHandler) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", products.ListPublished)
		r.Get("/{slug}", products.GetPublished)
	})
}

// RegisterAdminRoutes registers product management and the access log under the
// admin API. The caller mounts them behind the session gate.
func RegisterAdminRoutes(r chi.Router, products *ProductHandler, attempts *AttemptHandler) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", products.ListAll)
		r.Post("/", products.Create)
		r.Get("/{id}", products.Get)
		r.Put("/{id}", products.Update)
		r.Delete("/{id}", products.Delete)
		r.Post("/{id}/image", products.UploadImage)
	})

	r.Get("/access-attempts", attempts.List)
}
