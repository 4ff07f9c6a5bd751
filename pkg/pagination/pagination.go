// Package pagination slices in-memory lists into numbered pages.
package pagination

import (
	"net/http"
	"strconv"
)

// Page size bounds for the per_page query parameter.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params selects one page. Page is 1-based.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// FromRequest reads page and per_page from the query string. A missing,
// non-numeric or out-of-range value falls back to page 1 of DefaultPerPage.
func FromRequest(r *http.Request) Params {
	q := r.URL.Query()
	return Params{
		Page:    queryInt(q.Get("page"), 1, 0),
		PerPage: queryInt(q.Get("per_page"), DefaultPerPage, MaxPerPage),
	}
}

func queryInt(raw string, fallback, limit int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 || (limit > 0 && v > limit) {
		return fallback
	}
	return v
}

// Offset is the index of the first item on the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Window returns the items on the page. A page past the end is empty, never nil.
func Window[T any](items []T, p Params) []T {
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	return items[start:min(start+p.PerPage, len(items))]
}

// Result is one page of a list plus the numbers a client needs to walk it.
type Result[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewResult describes data as page p of totalCount items.
func NewResult[T any](data []T, totalCount int, p Params) Result[T] {
	pages := (totalCount + p.PerPage - 1) / p.PerPage
	return Result[T]{
		Data:       data,
		TotalCount: totalCount,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: pages,
		HasNext:    p.Page < pages,
		HasPrev:    p.Page > 1,
	}
}

// Paginate windows items and converts the page with fn.
func Paginate[T, R any](items []T, p Params, fn func(T) R) Result[R] {
	page := Window(items, p)
	out := make([]R, len(page))
	for i, item := range page {
		out[i] = fn(item)
	}
	return NewResult(out, len(items), p)
}
