package pagination

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params holds page-style pagination parameters.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Offset  int `json:"-"`
}

// DefaultParams returns page 1 with DefaultPerPage items.
func DefaultParams() Params {
	return Params{Page: 1, PerPage: DefaultPerPage}
}

// FromRequest reads page and per_page from the query string. Invalid or
// out of range values fall back to the defaults.
func FromRequest(r *http.Request) Params {
	p := DefaultParams()

	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 && v <= MaxPerPage {
		p.PerPage = v
	}

	p.Offset = (p.Page - 1) * p.PerPage
	return p
}

// Window is an offset-style slice of a result set.
type Window struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// WindowFromRequest reads limit and offset from the query string. Unlike
// FromRequest it rejects malformed values, since audit listings should not
// silently return a different slice than asked for.
func WindowFromRequest(r *http.Request, defaultLimit, maxLimit int) (Window, error) {
	w := Window{Limit: defaultLimit}
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxLimit {
			return Window{}, fmt.Errorf("limit must be an integer between 1 and %d", maxLimit)
		}
		w.Limit = v
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return Window{}, fmt.Errorf("offset must be a non-negative integer")
		}
		w.Offset = v
	}
	return w, nil
}
