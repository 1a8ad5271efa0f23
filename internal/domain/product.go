package domain

import (
	"fmt"
	"time"
)

// CatalogProduct is a product as the catalog stores it. The sync engine only
// reads it.
type CatalogProduct struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Team        string    `json:"team"`
	Season      string    `json:"season"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Size        string    `json:"size"`
	Price       *int64    `json:"price"` // minor units, nil when missing
	Active      bool      `json:"active"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SearchDocument is the denormalized form written to the search index.
type SearchDocument struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Team        string    `json:"team"`
	Season      string    `json:"season"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Size        string    `json:"size"`
	Price       int64     `json:"price"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ValidationError reports the first field of a product that cannot be mapped
// into a SearchDocument.
type ValidationError struct {
	ProductID string
	Field     string
	Message   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("product %s: %s %s", e.ProductID, e.Field, e.Message)
}
