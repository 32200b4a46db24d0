package catalog

import (
	"context"
	"errors"
	"strings"
)

// RepositoryPort defines data access methods for the catalog.
type RepositoryPort interface {
	CreateRole(ctx context.Context, name, guard, label string) (Role, error)
	CreatePermission(ctx context.Context, name, guard, label string) (Permission, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetRoleByName(ctx context.Context, name, guard string) (Role, error)
	ListRoles(ctx context.Context, guard string) ([]Role, error)
	ListPermissions(ctx context.Context, guard string) ([]Permission, error)
	GrantRole(ctx context.Context, roleID, permissionID int64) error
	RevokeRole(ctx context.Context, roleID, permissionID int64) error
	GrantUser(ctx context.Context, userID, permissionID int64) error
	RevokeUser(ctx context.Context, userID, permissionID int64) error
	AssignRole(ctx context.Context, userID, roleID int64) error
	UnassignRole(ctx context.Context, userID, roleID int64) error
	RoleHasPermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	RolePermissionNames(ctx context.Context, roleID int64) ([]string, error)
	UserResolvedNames(ctx context.Context, userID int64, guard string) ([]string, error)
	UserHasRole(ctx context.Context, userID int64, roleName, guard string) (bool, error)
}

// Invalidator drops every cached resolved permission set. The catalog calls it
// after each committed mutation so no reader ever observes a stale set.
type Invalidator interface {
	InvalidateAll(ctx context.Context) error
}

// Service is the single source of truth for roles, permissions and grant edges.
type Service struct {
	repo  RepositoryPort
	cache Invalidator
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, cache Invalidator) *Service {
	return &Service{repo: repo, cache: cache}
}

// CreateRole inserts a new role. Fails with ErrDuplicateKey on an exact
// (name, guard) match.
func (s *Service) CreateRole(ctx context.Context, name, guard, label string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("catalog: role name required")
	}
	role, err := s.repo.CreateRole(ctx, name, guard, strings.TrimSpace(label))
	if err != nil {
		return Role{}, err
	}
	return role, s.invalidate(ctx)
}

// CreatePermission inserts a new permission. Fails with ErrDuplicateKey on an
// exact (name, guard) match; case and whitespace variants are accepted and left
// to the dedup maintenance tool.
func (s *Service) CreatePermission(ctx context.Context, name, guard, label string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, errors.New("catalog: permission name required")
	}
	perm, err := s.repo.CreatePermission(ctx, name, guard, strings.TrimSpace(label))
	if err != nil {
		return Permission{}, err
	}
	return perm, s.invalidate(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// GetPermission fetches a permission by ID.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

// ListRoles returns all roles under the guard.
func (s *Service) ListRoles(ctx context.Context, guard string) ([]Role, error) {
	return s.repo.ListRoles(ctx, guard)
}

// ListPermissions returns all permissions under the guard in creation order.
func (s *Service) ListPermissions(ctx context.Context, guard string) ([]Permission, error) {
	return s.repo.ListPermissions(ctx, guard)
}

// Grant attaches a permission to a role. Idempotent.
func (s *Service) Grant(ctx context.Context, roleID, permissionID int64) error {
	if err := s.checkEdge(ctx, roleID, permissionID); err != nil {
		return err
	}
	if err := s.repo.GrantRole(ctx, roleID, permissionID); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// Revoke detaches a permission from a role. Revoking an absent grant is a
// no-op success.
func (s *Service) Revoke(ctx context.Context, roleID, permissionID int64) error {
	if err := s.checkEdge(ctx, roleID, permissionID); err != nil {
		return err
	}
	if err := s.repo.RevokeRole(ctx, roleID, permissionID); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// GrantUser attaches a permission directly to a user. Idempotent.
func (s *Service) GrantUser(ctx context.Context, userID, permissionID int64) error {
	if _, err := s.repo.GetPermission(ctx, permissionID); err != nil {
		return err
	}
	if err := s.repo.GrantUser(ctx, userID, permissionID); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// RevokeUser removes a direct user grant. Idempotent.
func (s *Service) RevokeUser(ctx context.Context, userID, permissionID int64) error {
	if _, err := s.repo.GetPermission(ctx, permissionID); err != nil {
		return err
	}
	if err := s.repo.RevokeUser(ctx, userID, permissionID); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// AssignRole assigns a role to a user. Idempotent.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.repo.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// UnassignRole removes a role from a user. Idempotent.
func (s *Service) UnassignRole(ctx context.Context, userID, roleID int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.repo.UnassignRole(ctx, userID, roleID); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// RolePermissionNames returns the permission names granted to the role.
func (s *Service) RolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	return s.repo.RolePermissionNames(ctx, roleID)
}

// UserResolvedNames returns the flattened union of the user's direct and
// role-derived permission names under the guard. This is the loader behind the
// permission cache.
func (s *Service) UserResolvedNames(ctx context.Context, userID int64, guard string) ([]string, error) {
	return s.repo.UserResolvedNames(ctx, userID, guard)
}

// UserHasRole reports whether the user holds the named role under the guard.
func (s *Service) UserHasRole(ctx context.Context, userID int64, roleName, guard string) (bool, error) {
	return s.repo.UserHasRole(ctx, userID, roleName, guard)
}

func (s *Service) checkEdge(ctx context.Context, roleID, permissionID int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	if _, err := s.repo.GetPermission(ctx, permissionID); err != nil {
		return err
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateAll(ctx)
}
