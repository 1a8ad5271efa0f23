// Package mapper turns catalog products into search documents.
package mapper

import (
	"errors"
	"strings"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/pkg/validator"
)

// mandatory lists the fields a document cannot be indexed without, in the
// order they are reported.
type mandatory struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Price *int64 `json:"price" validate:"required,gte=0"`
}

// Map converts p into a SearchDocument. It is pure: the same product always
// yields the same document. Optional text fields are trimmed and indexed as
// empty strings when absent. The returned error is a *domain.ValidationError
// naming the first invalid field.
func Map(p domain.CatalogProduct) (domain.SearchDocument, error) {
	m := mandatory{
		ID:    strings.TrimSpace(p.ID),
		Name:  strings.TrimSpace(p.Name),
		Price: p.Price,
	}
	if err := validator.Validate(m); err != nil {
		return domain.SearchDocument{}, toValidationError(p.ID, err)
	}

	return domain.SearchDocument{
		ID:          m.ID,
		Name:        m.Name,
		Description: strings.TrimSpace(p.Description),
		Team:        strings.TrimSpace(p.Team),
		Season:      strings.TrimSpace(p.Season),
		Type:        strings.TrimSpace(p.Type),
		Category:    strings.TrimSpace(p.Category),
		Size:        strings.TrimSpace(p.Size),
		Price:       *m.Price,
		Version:     p.UpdatedAt.UnixMilli(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}, nil
}

func toValidationError(id string, err error) *domain.ValidationError {
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		if field, msg, ok := verr.First(); ok {
			return &domain.ValidationError{ProductID: id, Field: field, Message: msg}
		}
	}
	return &domain.ValidationError{ProductID: id, Field: "product", Message: err.Error()}
}
