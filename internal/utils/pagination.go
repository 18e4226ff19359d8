// Package utils holds small helpers shared by the transport and service
// layers. Nothing here knows about accounts or conversations.
package utils

import (
	"strconv"
	"strings"
)

// Page bounds for list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageQuery is the raw pagination input of a list request. Limit and Offset
// are the legacy parameters; they apply only when the page-based ones are
// absent.
type PageQuery struct {
	Page     string
	PageSize string
	Limit    string
	Offset   string
}

// Resolve returns a 1-based page and a page size clamped to [1, MaxPageSize].
// Unparsable values fall back to their defaults.
func (q PageQuery) Resolve() (page, size int) {
	size = atoiDefault(q.PageSize, atoiDefault(q.Limit, DefaultPageSize))
	size = ClampPageSize(size)

	page = atoiDefault(q.Page, 0)
	if page == 0 {
		page = 1
		if off := atoiDefault(q.Offset, 0); off > 0 {
			page = off/size + 1
		}
	}
	if page < 1 {
		page = 1
	}
	return page, size
}

// ClampPageSize bounds size to [1, MaxPageSize]; zero or negative means
// DefaultPageSize.
func ClampPageSize(size int) int {
	switch {
	case size <= 0:
		return DefaultPageSize
	case size > MaxPageSize:
		return MaxPageSize
	}
	return size
}

// TotalPages is the number of pages of size needed for total rows.
func TotalPages(total int64, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

func atoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
