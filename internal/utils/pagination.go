// Package utils holds the pagination arithmetic shared by the history
// service and the HTTP layer.
package utils

import "strconv"

// Page bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault parses s with strconv.Atoi, returning def when s is empty or
// not an integer. Surrounding spaces are not trimmed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage bounds a 1-based page number and a page size to
// [1, ∞) × [1, MaxPageSize]. A non-positive size becomes DefaultPageSize.
func ClampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}

// Offset returns the number of rows preceding page.
func Offset(page, size int) int {
	if page < 1 || size < 1 {
		return 0
	}
	return (page - 1) * size
}

// TotalPages returns how many pages of size hold total rows.
func TotalPages(total int64, size int) int {
	if total <= 0 || size < 1 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
