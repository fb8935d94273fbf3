// Package catalog manages the motorcycle models shown on the marketing site.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/voltmoto/site/backend/internal/repository"
	"github.com/voltmoto/site/backend/internal/sanitizer"
	"github.com/voltmoto/site/backend/internal/storage"
	"github.com/voltmoto/site/backend/internal/tasks"
)

var (
	ErrProductNotFound = repository.ErrProductNotFound
	ErrSlugTaken       = repository.ErrProductSlugExists
	ErrInvalidSlug     = errors.New("slug must be lowercase letters, digits and single hyphens")
	ErrInvalidCurrency = errors.New("currency must be a three letter ISO code")
	ErrImageTooLarge   = errors.New("image exceeds the maximum upload size")
	ErrUnsupportedType = storage.ErrUnsupportedImageType
)

const (
	// MaxSlugLength bounds the URL segment of a product page
	MaxSlugLength = 80
	// DefaultMaxImageBytes is used when no upload limit is configured
	DefaultMaxImageBytes = 8 << 20
)

var (
	slugRegex     = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	slugStrip     = regexp.MustCompile(`[^a-z0-9]+`)
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
)

// ProductStore is the product repository
type ProductStore interface {
	List(ctx context.Context, params repository.ListProductParams) ([]repository.Product, int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*repository.Product, error)
	GetBySlug(ctx context.Context, slug string, publishedOnly bool) (*repository.Product, error)
	Create(ctx context.Context, p *repository.Product) error
	Update(ctx context.Context, p *repository.Product) error
	SetImageKey(ctx context.Context, id uuid.UUID, key *string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ImageStore holds product image objects
type ImageStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string) (string, error)
}

// ProductInput holds the editable fields of a product
type ProductInput struct {
	Slug        string
	Name        string
	Tagline     string
	Description string
	PriceCents  int64
	Currency    string
	RangeKM     int
	TopSpeedKMH int
	BatteryKWH  float64
	IsPublished bool
}

// Service handles product business logic
type Service struct {
	products      ProductStore
	images        ImageStore
	sanitizer     sanitizer.HTMLSanitizer
	runner        *tasks.Runner
	maxImageBytes int64
	logger        *slog.Logger
}

// ServiceConfig contains the dependencies of a Service
type ServiceConfig struct {
	Products      ProductStore
	Images        ImageStore
	Sanitizer     sanitizer.HTMLSanitizer
	Runner        *tasks.Runner
	MaxImageBytes int64
	Logger        *slog.Logger
}

// NewService creates a catalog Service
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Runner == nil {
		cfg.Runner = tasks.NewRunner(cfg.Logger, 0)
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = sanitizer.NewDescriptionSanitizer()
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	return &Service{
		products:      cfg.Products,
		images:        cfg.Images,
		sanitizer:     cfg.Sanitizer,
		runner:        cfg.Runner,
		maxImageBytes: cfg.MaxImageBytes,
		logger:        cfg.Logger,
	}
}

// MaxImageBytes is the upload limit
func (s *Service) MaxImageBytes() int64 {
	return s.maxImageBytes
}

// List returns a page of products
func (s *Service) List(ctx context.Context, params repository.ListProductParams) ([]repository.Product, int, error) {
	products, total, err := s.products.List(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	return products, total, nil
}

// Get returns a product by ID, published or not
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*repository.Product, error) {
	return s.products.GetByID(ctx, id)
}

// GetPublished returns a published product by slug
func (s *Service) GetPublished(ctx context.Context, slug string) (*repository.Product, error) {
	return s.products.GetBySlug(ctx, NormalizeSlug(slug), true)
}

// Create validates and stores a new product
func (s *Service) Create(ctx context.Context, in ProductInput) (*repository.Product, error) {
	p := &repository.Product{}
	if err := s.apply(p, in); err != nil {
		return nil, err
	}
	if err := s.products.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("Product created", "product_id", p.ID, "slug", p.Slug)
	return p, nil
}

// Update replaces the editable fields of a product
func (s *Service) Update(ctx context.Context, id uuid.UUID, in ProductInput) (*repository.Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(p, in); err != nil {
		return nil, err
	}
	if err := s.products.Update(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("Product updated", "product_id", p.ID, "slug", p.Slug)
	return s.products.GetByID(ctx, id)
}

// Delete removes a product. Its image is removed in the background; a failure
// leaves an orphan for the cleanup job.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.products.Delete(ctx, id); err != nil {
		return err
	}
	if p.ImageKey != nil {
		s.deleteImageLater(ctx, *p.ImageKey)
	}
	s.logger.Info("Product deleted", "product_id", id, "slug", p.Slug)
	return nil
}

// AttachImage uploads a new product image and replaces the stored key
func (s *Service) AttachImage(ctx context.Context, id uuid.UUID, body io.Reader, size int64, contentType string) (*repository.Product, error) {
	if size > s.maxImageBytes {
		return nil, ErrImageTooLarge
	}

	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	key, err := storage.ImageKey(id, contentType)
	if err != nil {
		return nil, err
	}
	if err := s.images.Put(ctx, key, body, size, contentType); err != nil {
		return nil, err
	}
	if err := s.products.SetImageKey(ctx, id, &key); err != nil {
		s.deleteImageLater(ctx, key)
		return nil, err
	}

	if p.ImageKey != nil {
		s.deleteImageLater(ctx, *p.ImageKey)
	}
	p.ImageKey = &key
	return p, nil
}

// ImageURL returns a download URL for the product image, or "" when it has none
func (s *Service) ImageURL(ctx context.Context, p *repository.Product) string {
	if p.ImageKey == nil || s.images == nil {
		return ""
	}
	url, err := s.images.PresignedURL(ctx, *p.ImageKey)
	if err != nil {
		s.logger.Warn("Failed to presign product image", "product_id", p.ID, "error", err)
		return ""
	}
	return url
}

func (s *Service) deleteImageLater(ctx context.Context, key string) {
	if err := s.runner.Go(ctx, "delete_product_image", func(ctx context.Context) error {
		return s.images.Delete(ctx, key)
	}); err != nil {
		s.logger.Warn("Could not schedule image deletion", "key", key, "error", err)
	}
}

func (s *Service) apply(p *repository.Product, in ProductInput) error {
	slug := NormalizeSlug(in.Slug)
	if slug == "" {
		slug = Slugify(in.Name)
	}
	if err := ValidateSlug(slug); err != nil {
		return err
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "EUR"
	}
	if !currencyRegex.MatchString(currency) {
		return ErrInvalidCurrency
	}

	p.Slug = slug
	p.Name = strings.TrimSpace(in.Name)
	p.Tagline = strings.TrimSpace(in.Tagline)
	p.Description = s.sanitizer.Sanitize(in.Description)
	p.PriceCents = in.PriceCents
	p.Currency = currency
	p.RangeKM = in.RangeKM
	p.TopSpeedKMH = in.TopSpeedKMH
	p.BatteryKWH = in.BatteryKWH
	p.IsPublished = in.IsPublished
	return nil
}

// NormalizeSlug lower-cases and trims a slug
func NormalizeSlug(slug string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(slug)), "-")
}

// Slugify derives a slug from a product name
func Slugify(name string) string {
	slug := slugStrip.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}
	return slug
}

// ValidateSlug checks slug format and length
func ValidateSlug(slug string) error {
	if slug == "" || len(slug) > MaxSlugLength || !slugRegex.MatchString(slug) {
		return ErrInvalidSlug
	}
	return nil
}
