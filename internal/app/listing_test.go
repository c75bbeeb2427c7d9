package app

import (
	"net/http/httptest"
	"testing"

	"formhub/api/internal/config"
	"formhub/api/internal/store"
)

func TestParseSort(t *testing.T) {
	cases := []struct {
		raw  string
		want store.Sort
	}{
		{"", store.Sort{Kind: store.SortNewest}},
		{"newest", store.Sort{Kind: store.SortNewest}},
		{"popular", store.Sort{Kind: store.SortPopular}},
		{"title:asc", store.Sort{Kind: store.SortField, Field: "title"}},
		{"title:desc", store.Sort{Kind: store.SortField, Field: "title", Descending: true}},
		{"createdAt:DESC", store.Sort{Kind: store.SortField, Field: "createdAt", Descending: true}},
		{"  popular  ", store.Sort{Kind: store.SortPopular}},
		{"garbage", store.Sort{Kind: store.SortNewest}},
		{":desc", store.Sort{Kind: store.SortNewest}},
	}
	for _, tc := range cases {
		if got := parseSort(tc.raw); got != tc.want {
			t.Errorf("parseSort(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}
}

func TestParsePage(t *testing.T) {
	svc := &Service{cfg: config.Config{PageSize: 10}}

	cases := []struct {
		query      string
		wantPage   int
		wantLimit  int
		wantOffset int
	}{
		{"", 1, 10, 0},
		{"page=3", 3, 10, 20},
		{"page=2&limit=25", 2, 25, 25},
		{"limit=500", 1, 10, 0},
		{"page=-1&limit=0", 1, 10, 0},
		{"page=abc", 1, 10, 0},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/api/templates?"+tc.query, nil)
		page, limit, offset := svc.parsePage(r)
		if page != tc.wantPage || limit != tc.wantLimit || offset != tc.wantOffset {
			t.Errorf("parsePage(%q) = (%d, %d, %d), want (%d, %d, %d)",
				tc.query, page, limit, offset, tc.wantPage, tc.wantLimit, tc.wantOffset)
		}
	}
}
