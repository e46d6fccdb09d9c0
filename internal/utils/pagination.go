// Package utils holds small helpers shared by the HTTP and service layers.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or invalid.
// No trimming is applied.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ParsePage reads 1-based page and page size query values. Missing or
// invalid values fall back to page 1 and defSize; the size is capped at
// maxSize.
func ParsePage(pageStr, sizeStr string, defSize, maxSize int) (page, size int) {
	page = AtoiDefault(pageStr, 1)
	if page < 1 {
		page = 1
	}
	size = Clamp(AtoiDefault(sizeStr, defSize), 1, maxSize)
	return page, size
}

// Offset returns the row offset of a 1-based page.
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
