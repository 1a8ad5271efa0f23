package domain

// Sort options for search results.
const (
	SortRelevance = "relevance"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortNewest    = "newest"
)

// ValidSortOptions returns the list of valid sort options.
func ValidSortOptions() []string {
	return []string{SortRelevance, SortPriceAsc, SortPriceDesc, SortNewest}
}

// IsValidSort checks whether sort is one of ValidSortOptions.
func IsValidSort(sort string) bool {
	for _, s := range ValidSortOptions() {
		if s == sort {
			return true
		}
	}
	return false
}

// SearchQuery holds the storefront's filter and paging parameters. Nil
// filters are not applied.
type SearchQuery struct {
	Query    string  `json:"query"`
	Team     *string `json:"team,omitempty"`
	Season   *string `json:"season,omitempty"`
	Type     *string `json:"type,omitempty"`
	Category *string `json:"category,omitempty"`
	Size     *string `json:"size,omitempty"`
	MinPrice *int64  `json:"min_price,omitempty"`
	MaxPrice *int64  `json:"max_price,omitempty"`
	SortBy   string  `json:"sort_by"`
	Page     int     `json:"page"`
	PerPage  int     `json:"per_page"`
}

// SearchResult is one page of matching documents.
type SearchResult struct {
	Documents []SearchDocument `json:"documents"`
	Total     int              `json:"total"`
	Page      int              `json:"page"`
	PerPage   int              `json:"per_page"`
	TookMs    int64            `json:"took_ms"`
}
