// Package paging holds page/per_page request parameters and the page summary returned with list results.
package paging

import "math"

const (
	// DefaultPerPage is the case listing page size.
	DefaultPerPage = 10
	// DefaultAuditPerPage is the audit log page size.
	DefaultAuditPerPage = 50
	// MaxPerPage caps any page size.
	MaxPerPage = 100
	// MaxPage is the largest page whose offset fits in an int at MaxPerPage.
	MaxPage = math.MaxInt/MaxPerPage + 1
)

// Request holds page-based list parameters. Zero values mean "use default".
type Request struct {
	Page    int
	PerPage int
}

// Normalize clamps the request into [1, MaxPage] pages and [1, MaxPerPage] items,
// falling back to def when PerPage is unset.
func (r Request) Normalize(def int) Request {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.Page > MaxPage {
		r.Page = MaxPage
	}
	if r.PerPage <= 0 {
		r.PerPage = def
	}
	if r.PerPage > MaxPerPage {
		r.PerPage = MaxPerPage
	}
	return r
}

// Offset is the number of rows to skip. It saturates at math.MaxInt.
func (r Request) Offset() int {
	if r.Page < 1 || r.PerPage < 1 {
		return 0
	}
	if r.Page-1 > math.MaxInt/r.PerPage {
		return math.MaxInt
	}
	return (r.Page - 1) * r.PerPage
}

// Limit is the page size.
func (r Request) Limit() int { return r.PerPage }

// Info summarizes a page of results relative to the full (scoped) set.
type Info struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

// NewInfo builds the summary for req over total rows.
func NewInfo(req Request, total int) Info {
	pages := 0
	if req.PerPage > 0 {
		pages = (total + req.PerPage - 1) / req.PerPage
	}
	return Info{
		Page:    req.Page,
		PerPage: req.PerPage,
		Total:   total,
		Pages:   pages,
		HasNext: req.Page < pages,
		HasPrev: req.Page > 1,
	}
}

// Slice returns the window of items starting at offset. A limit below 1 means
// no limit and a negative offset is treated as 0.
func Slice[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	rest := items[offset:]
	if limit > 0 && limit < len(rest) {
		rest = rest[:limit]
	}
	return rest
}
