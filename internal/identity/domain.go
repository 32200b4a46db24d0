package identity

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested user does not exist.
	ErrNotFound = errors.New("identity: user not found")
	// ErrCycleDetected indicates a parent reassignment would create a cycle.
	ErrCycleDetected = errors.New("identity: parent cycle detected")
)

// User represents an account in the dealer hierarchy.
type User struct {
	ID          int64
	Email       string
	Name        string
	Guard       string
	ParentID    *int64
	DXFOverride bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasParent reports whether the user is attached to a parent account.
func (u User) HasParent() bool {
	return u.ParentID != nil
}
