package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type edge struct{ a, b int64 }

type stubRepo struct {
	roles       map[int64]Role
	perms       map[int64]Permission
	rolePerms   map[edge]struct{}
	userPerms   map[edge]struct{}
	userRoles   map[edge]struct{}
	createNames map[string]struct{}
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		roles:       map[int64]Role{},
		perms:       map[int64]Permission{},
		rolePerms:   map[edge]struct{}{},
		userPerms:   map[edge]struct{}{},
		userRoles:   map[edge]struct{}{},
		createNames: map[string]struct{}{},
	}
}

func (s *stubRepo) CreateRole(ctx context.Context, name, guard, label string) (Role, error) {
	key := name + "|" + guard
	if _, exists := s.createNames[key]; exists {
		return Role{}, ErrDuplicateKey
	}
	s.createNames[key] = struct{}{}
	id := int64(len(s.roles) + 1)
	role := Role{ID: id, Name: name, Guard: guard, Label: label}
	s.roles[id] = role
	return role, nil
}

func (s *stubRepo) CreatePermission(ctx context.Context, name, guard, label string) (Permission, error) {
	key := "p:" + name + "|" + guard
	if _, exists := s.createNames[key]; exists {
		return Permission{}, ErrDuplicateKey
	}
	s.createNames[key] = struct{}{}
	id := int64(len(s.perms) + 1)
	perm := Permission{ID: id, Name: name, Guard: guard, Label: label}
	s.perms[id] = perm
	return perm, nil
}

func (s *stubRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (s *stubRepo) GetPermission(ctx context.Context, id int64) (Permission, error) {
	perm, ok := s.perms[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return perm, nil
}

func (s *stubRepo) GetRoleByName(ctx context.Context, name, guard string) (Role, error) {
	for _, role := range s.roles {
		if role.Name == name && role.Guard == guard {
			return role, nil
		}
	}
	return Role{}, ErrNotFound
}

func (s *stubRepo) ListRoles(ctx context.Context, guard string) ([]Role, error) {
	var roles []Role
	for _, role := range s.roles {
		if role.Guard == guard {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (s *stubRepo) ListPermissions(ctx context.Context, guard string) ([]Permission, error) {
	var perms []Permission
	for _, perm := range s.perms {
		if perm.Guard == guard {
			perms = append(perms, perm)
		}
	}
	return perms, nil
}

func (s *stubRepo) GrantRole(ctx context.Context, roleID, permissionID int64) error {
	s.rolePerms[edge{roleID, permissionID}] = struct{}{}
	return nil
}

func (s *stubRepo) RevokeRole(ctx context.Context, roleID, permissionID int64) error {
	delete(s.rolePerms, edge{roleID, permissionID})
	return nil
}

func (s *stubRepo) GrantUser(ctx context.Context, userID, permissionID int64) error {
	s.userPerms[edge{userID, permissionID}] = struct{}{}
	return nil
}

func (s *stubRepo) RevokeUser(ctx context.Context, userID, permissionID int64) error {
	delete(s.userPerms, edge{userID, permissionID})
	return nil
}

func (s *stubRepo) AssignRole(ctx context.Context, userID, roleID int64) error {
	s.userRoles[edge{userID, roleID}] = struct{}{}
	return nil
}

func (s *stubRepo) UnassignRole(ctx context.Context, userID, roleID int64) error {
	delete(s.userRoles, edge{userID, roleID})
	return nil
}

func (s *stubRepo) RoleHasPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	_, ok := s.rolePerms[edge{roleID, permissionID}]
	return ok, nil
}

func (s *stubRepo) RolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	var names []string
	for e := range s.rolePerms {
		if e.a == roleID {
			names = append(names, s.perms[e.b].Name)
		}
	}
	return names, nil
}

func (s *stubRepo) UserResolvedNames(ctx context.Context, userID int64, guard string) ([]string, error) {
	seen := map[string]struct{}{}
	for e := range s.userRoles {
		if e.a != userID || s.roles[e.b].Guard != guard {
			continue
		}
		for rp := range s.rolePerms {
			if rp.a == e.b && s.perms[rp.b].Guard == guard {
				seen[s.perms[rp.b].Name] = struct{}{}
			}
		}
	}
	for e := range s.userPerms {
		if e.a == userID && s.perms[e.b].Guard == guard {
			seen[s.perms[e.b].Name] = struct{}{}
		}
	}
	var names []string
	for name := range seen {
		names = append(names, name)
	}
	return names, nil
}

func (s *stubRepo) UserHasRole(ctx context.Context, userID int64, roleName, guard string) (bool, error) {
	for e := range s.userRoles {
		if e.a == userID {
			role := s.roles[e.b]
			if role.Name == roleName && role.Guard == guard {
				return true, nil
			}
		}
	}
	return false, nil
}

type spyInvalidator struct {
	calls int
}

func (s *spyInvalidator) InvalidateAll(ctx context.Context) error {
	s.calls++
	return nil
}

func seedService(t *testing.T) (*Service, *stubRepo, *spyInvalidator, Role, Permission) {
	t.Helper()
	repo := newStubRepo()
	inv := &spyInvalidator{}
	svc := NewService(repo, inv)
	ctx := context.Background()
	role, err := svc.CreateRole(ctx, "dealer", "web", "Dealer")
	require.NoError(t, err)
	perm, err := svc.CreatePermission(ctx, "view order", "web", "View orders")
	require.NoError(t, err)
	inv.calls = 0
	return svc, repo, inv, role, perm
}

func TestGrantIsIdempotent(t *testing.T) {
	svc, repo, inv, role, perm := seedService(t)
	ctx := context.Background()

	require.NoError(t, svc.Grant(ctx, role.ID, perm.ID))
	require.NoError(t, svc.Grant(ctx, role.ID, perm.ID))

	granted, err := repo.RoleHasPermission(ctx, role.ID, perm.ID)
	require.NoError(t, err)
	require.True(t, granted)
	names, err := svc.RolePermissionNames(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, names, 1)
	require.Equal(t, 2, inv.calls, "each mutating call invalidates the cache")
}

func TestRevokeAbsentIsNoOpSuccess(t *testing.T) {
	svc, repo, inv, role, perm := seedService(t)
	ctx := context.Background()

	require.NoError(t, svc.Revoke(ctx, role.ID, perm.ID))
	granted, err := repo.RoleHasPermission(ctx, role.ID, perm.ID)
	require.NoError(t, err)
	require.False(t, granted)
	require.Equal(t, 1, inv.calls)
}

func TestCreateRoleDuplicateKey(t *testing.T) {
	svc, _, _, _, _ := seedService(t)
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, "dealer", "web", "Dealer")
	require.ErrorIs(t, err, ErrDuplicateKey)

	// A different guard is a different namespace.
	_, err = svc.CreateRole(ctx, "dealer", "api", "Dealer")
	require.NoError(t, err)
}

func TestGrantUnknownEdgeSurfacesNotFound(t *testing.T) {
	svc, _, inv, role, _ := seedService(t)
	ctx := context.Background()

	err := svc.Grant(ctx, role.ID, 999)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 0, inv.calls, "failed structural checks must not invalidate")
}

func TestAssignRoleIdempotentAndResolved(t *testing.T) {
	svc, _, inv, role, perm := seedService(t)
	ctx := context.Background()

	require.NoError(t, svc.Grant(ctx, role.ID, perm.ID))
	require.NoError(t, svc.AssignRole(ctx, 42, role.ID))
	require.NoError(t, svc.AssignRole(ctx, 42, role.ID))

	names, err := svc.UserResolvedNames(ctx, 42, "web")
	require.NoError(t, err)
	require.Equal(t, []string{"view order"}, names)
	require.Equal(t, 3, inv.calls)

	// The same assignments resolve to nothing under another guard.
	names, err = svc.UserResolvedNames(ctx, 42, "api")
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestUserDirectGrantBypassesRoles(t *testing.T) {
	svc, _, _, _, perm := seedService(t)
	ctx := context.Background()

	require.NoError(t, svc.GrantUser(ctx, 42, perm.ID))
	names, err := svc.UserResolvedNames(ctx, 42, "web")
	require.NoError(t, err)
	require.Equal(t, []string{"view order"}, names)

	require.NoError(t, svc.RevokeUser(ctx, 42, perm.ID))
	names, err = svc.UserResolvedNames(ctx, 42, "web")
	require.NoError(t, err)
	require.Empty(t, names)
}
