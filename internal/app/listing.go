package app

import (
	"net/http"
	"strconv"
	"strings"

	"formhub/api/internal/store"
)

// ListEnvelope is the response shape for every paginated listing.
type ListEnvelope struct {
	Data  any `json:"data"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// parseSort decodes the sort query parameter once, into the closed variant
// the store understands. Accepted shapes: "popular", "newest", or
// "field:asc" / "field:desc". Anything unrecognized falls back to newest.
func parseSort(raw string) store.Sort {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "", "newest":
		return store.Sort{Kind: store.SortNewest}
	case "popular":
		return store.Sort{Kind: store.SortPopular}
	}

	field, dir, found := strings.Cut(raw, ":")
	if !found || field == "" {
		return store.Sort{Kind: store.SortNewest}
	}
	return store.Sort{
		Kind:       store.SortField,
		Field:      field,
		Descending: strings.EqualFold(dir, "desc"),
	}
}

// parsePage reads page/limit query parameters with the configured default
// page size. Page numbering is 1-based.
func (s *Service) parsePage(r *http.Request) (page, limit, offset int) {
	page = 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page = n
		}
	}
	limit = s.cfg.PageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	return page, limit, (page - 1) * limit
}

func listOptions(sort store.Sort, limit, offset int) store.ListOptions {
	return store.ListOptions{Sort: sort, Limit: limit, Offset: offset}
}
