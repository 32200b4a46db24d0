package catalog

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateKey indicates a role or permission with the same (name, guard)
	// already exists. Only an exact, case-sensitive match is rejected; near
	// duplicates are handled by the dedup maintenance tool.
	ErrDuplicateKey = errors.New("catalog: duplicate name for guard")
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("catalog: not found")
)

// Role represents a named permission grouping, partitioned by guard.
type Role struct {
	ID        int64
	Name      string
	Guard     string
	Label     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Permission represents an atomic capability, partitioned by guard.
type Permission struct {
	ID        int64
	Name      string
	Guard     string
	Label     string
	CreatedAt time.Time
}
