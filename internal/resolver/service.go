// Package resolver answers "may user U perform action A under guard G".
package resolver

import (
	"context"
	"fmt"

	"github.com/glasswerk-erp/glasswerk-authz/internal/identity"
	"github.com/glasswerk-erp/glasswerk-authz/internal/permcache"
)

// Default sentinel names. Both can be overridden through Config to match a
// deployment's seed data.
const (
	DefaultSuperuserRole = "super_admin"
	DefaultDXFPermission = "access dxf"
)

// CatalogReader is the slice of the catalog the resolver reads through.
type CatalogReader interface {
	UserHasRole(ctx context.Context, userID int64, roleName, guard string) (bool, error)
	UserResolvedNames(ctx context.Context, userID int64, guard string) ([]string, error)
}

// UserReader exposes the identity attributes the resolver needs.
type UserReader interface {
	Get(ctx context.Context, id int64) (identity.User, error)
}

// Config tunes the resolver's sentinel names.
type Config struct {
	SuperuserRole string
	DXFPermission string
}

// Service decides authorization checks. It is a pure query over the catalog
// and the cache; the only write it ever performs is miss population.
type Service struct {
	catalog CatalogReader
	users   UserReader
	cache   *permcache.Cache
	cfg     Config
}

// NewService builds Service instance.
func NewService(catalog CatalogReader, users UserReader, cache *permcache.Cache, cfg Config) *Service {
	if cfg.SuperuserRole == "" {
		cfg.SuperuserRole = DefaultSuperuserRole
	}
	if cfg.DXFPermission == "" {
		cfg.DXFPermission = DefaultDXFPermission
	}
	return &Service{catalog: catalog, users: users, cache: cache, cfg: cfg}
}

// Resolve reports whether the user holds the named permission under the guard.
//
// The decision short-circuits in order: the superuser role allows everything
// unconditionally; otherwise membership in the cached resolved set allows;
// the DXF permission additionally requires the user's override flag, a
// double-gate specific to that one capability.
func (s *Service) Resolve(ctx context.Context, userID int64, permission, guard string) (bool, error) {
	super, err := s.catalog.UserHasRole(ctx, userID, s.cfg.SuperuserRole, guard)
	if err != nil {
		return false, err
	}
	if super {
		return true, nil
	}

	set, err := s.cache.Lookup(ctx, principalKey(userID, guard), func(ctx context.Context) ([]string, error) {
		return s.catalog.UserResolvedNames(ctx, userID, guard)
	})
	if err != nil {
		return false, err
	}
	if !set.Has(permission) {
		return false, nil
	}

	if permission == s.cfg.DXFPermission {
		user, err := s.users.Get(ctx, userID)
		if err != nil {
			return false, err
		}
		return user.DXFOverride, nil
	}
	return true, nil
}

// ResolveAny reports whether the user holds at least one of the permissions.
func (s *Service) ResolveAny(ctx context.Context, userID int64, permissions []string, guard string) (bool, error) {
	for _, perm := range permissions {
		ok, err := s.Resolve(ctx, userID, perm, guard)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ResolveAll reports whether the user holds every one of the permissions.
func (s *Service) ResolveAll(ctx context.Context, userID int64, permissions []string, guard string) (bool, error) {
	for _, perm := range permissions {
		ok, err := s.Resolve(ctx, userID, perm, guard)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// principalKey keys cache entries per user AND guard, so a set resolved under
// one guard can never satisfy a check under another.
func principalKey(userID int64, guard string) string {
	return fmt.Sprintf("user:%d:%s", userID, guard)
}
