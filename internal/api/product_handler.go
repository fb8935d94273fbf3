package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/voltmoto/site/backend/internal/catalog"
	"github.com/voltmoto/site/backend/internal/repository"
)

// multipartOverhead is allowed on top of the image limit for form boundaries and fields
const multipartOverhead = 64 << 10

// ProductHandler serves the public catalogue and the gated product admin
type ProductHandler struct {
	catalog *catalog.Service
	logger  *slog.Logger
}

// NewProductHandler creates a new ProductHandler instance
func NewProductHandler(catalog *catalog.Service, logger *slog.Logger) *ProductHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductHandler{catalog: catalog, logger: logger}
}

// ListPublished handles GET /api/v1/products
func (h *ProductHandler) ListPublished(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

// ListAll handles GET /admin/api/products
func (h *ProductHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

func (h *ProductHandler) list(w http.ResponseWriter, r *http.Request, publishedOnly bool) {
	params := repository.ListProductParams{
		Page:          1,
		Limit:         20,
		PublishedOnly: publishedOnly,
		Search:        strings.TrimSpace(r.URL.Query().Get("q")),
	}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && page > 0 {
		params.Page = page
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		params.Limit = min(limit, 100)
	}

	products, total, err := h.catalog.List(r.Context(), params)
	if err != nil {
		h.logger.Error("Failed to list products", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to list products", nil)
		return
	}

	items := make([]ProductResponse, 0, len(products))
	for i := range products {
		items = append(items, ToProductResponse(&products[i], h.catalog.ImageURL(r.Context(), &products[i])))
	}

	writeSuccess(w, http.StatusOK, ListProductsResponse{
		Products: items,
		Pagination: PaginationInfo{
			CurrentPage: params.Page,
			PerPage:     params.Limit,
			TotalPages:  CalculateTotalPages(total, params.Limit),
			TotalCount:  total,
		},
	})
}

// GetPublished handles GET /api/v1/products/{slug}
func (h *ProductHandler) GetPublished(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetPublished(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"product": ToProductResponse(p, h.catalog.ImageURL(r.Context(), p)),
	})
}

// Get handles GET /admin/api/products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	p, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"product": ToProductResponse(p, h.catalog.ImageURL(r.Context(), p)),
	})
}

// Create handles POST /admin/api/products
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeProduct(w, r)
	if !ok {
		return
	}
	p, err := h.catalog.Create(r.Context(), req.toInput())
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"product": ToProductResponse(p, ""),
	})
}

// Update handles PUT /admin/api/products/{id}
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	req, ok := decodeProduct(w, r)
	if !ok {
		return
	}
	p, err := h.catalog.Update(r.Context(), id, req.toInput())
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"product": ToProductResponse(p, h.catalog.ImageURL(r.Context(), p)),
	})
}

// Delete handles DELETE /admin/api/products/{id}
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.catalog.Delete(r.Context(), id); err != nil {
		h.handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"product_id": id})
}

// UploadImage handles POST /admin/api/products/{id}/image with a multipart "image" field.
// The content type is sniffed from the bytes, not taken from the client.
func (h *ProductHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	maxBytes := h.catalog.MaxImageBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Image is too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, CodeValidationError, "image file is required", nil)
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Could not read image", nil)
		return
	}
	head = head[:n]
	contentType := http.DetectContentType(head)

	p, err := h.catalog.AttachImage(r.Context(), id, io.MultiReader(bytes.NewReader(head), file), header.Size, contentType)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"product": ToProductResponse(p, h.catalog.ImageURL(r.Context(), p)),
	})
}

func decodeProduct(w http.ResponseWriter, r *http.Request) (ProductRequest, bool) {
	var req ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return req, false
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid product", validationDetails(err))
		return req, false
	}
	return req, true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid product ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// handleError maps catalog errors to HTTP responses
func (h *ProductHandler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		writeError(w, http.StatusNotFound, CodeProductNotFound, "Product not found", nil)
	case errors.Is(err, catalog.ErrSlugTaken):
		writeError(w, http.StatusConflict, CodeSlugExists, "Slug already in use", nil)
	case errors.Is(err, catalog.ErrInvalidSlug):
		writeError(w, http.StatusBadRequest, CodeValidationError, err.Error(), map[string][]string{"slug": {"format"}})
	case errors.Is(err, catalog.ErrInvalidCurrency):
		writeError(w, http.StatusBadRequest, CodeValidationError, err.Error(), map[string][]string{"currency": {"iso4217"}})
	case errors.Is(err, catalog.ErrImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Image is too large", nil)
	case errors.Is(err, catalog.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, CodeUnsupportedType, "Image must be JPEG, PNG or WebP", nil)
	default:
		h.logger.Error("Unexpected product error", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
	}
}
