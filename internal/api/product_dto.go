package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/voltmoto/site/backend/internal/catalog"
	"github.com/voltmoto/site/backend/internal/repository"
)

// ProductRequest is the body of create and update
type ProductRequest struct {
	Slug        string  `json:"slug" validate:"omitempty,max=80"`
	Name        string  `json:"name" validate:"required,min=2,max=120"`
	Tagline     string  `json:"tagline" validate:"max=200"`
	Description string  `json:"description" validate:"max=20000"`
	PriceCents  int64   `json:"price_cents" validate:"gte=0"`
	Currency    string  `json:"currency" validate:"omitempty,len=3"`
	RangeKM     int     `json:"range_km" validate:"gte=0,lte=2000"`
	TopSpeedKMH int     `json:"top_speed_kmh" validate:"gte=0,lte=500"`
	BatteryKWH  float64 `json:"battery_kwh" validate:"gte=0,lte=100"`
	IsPublished bool    `json:"is_published"`
}

func (r ProductRequest) toInput() catalog.ProductInput {
	return catalog.ProductInput{
		Slug:        r.Slug,
		Name:        r.Name,
		Tagline:     r.Tagline,
		Description: r.Description,
		PriceCents:  r.PriceCents,
		Currency:    r.Currency,
		RangeKM:     r.RangeKM,
		TopSpeedKMH: r.TopSpeedKMH,
		BatteryKWH:  r.BatteryKWH,
		IsPublished: r.IsPublished,
	}
}

// ProductResponse represents a product in API responses
type ProductResponse struct {
	ID          uuid.UUID `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Tagline     string    `json:"tagline"`
	Description string    `json:"description"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	RangeKM     int       `json:"range_km"`
	TopSpeedKMH int       `json:"top_speed_kmh"`
	BatteryKWH  float64   `json:"battery_kwh"`
	ImageURL    string    `json:"image_url,omitempty"`
	IsPublished bool      `json:"is_published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToProductResponse converts a product to its response DTO
func ToProductResponse(p *repository.Product, imageURL string) ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		Slug:        p.Slug,
		Name:        p.Name,
		Tagline:     p.Tagline,
		Description: p.Description,
		PriceCents:  p.PriceCents,
		Currency:    p.Currency,
		RangeKM:     p.RangeKM,
		TopSpeedKMH: p.TopSpeedKMH,
		BatteryKWH:  p.BatteryKWH,
		ImageURL:    imageURL,
		IsPublished: p.IsPublished,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// ListProductsResponse represents the response for listing products
type ListProductsResponse struct {
	Products   []ProductResponse `json:"products"`
	Pagination PaginationInfo    `json:"pagination"`
}

// PaginationInfo contains pagination metadata
type PaginationInfo struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	TotalPages  int `json:"total_pages"`
	TotalCount  int `json:"total_count"`
}

// CalculateTotalPages calculates total pages for pagination
func CalculateTotalPages(totalCount, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	pages := totalCount / perPage
	if totalCount%perPage > 0 {
		pages++
	}
	return pages
}
