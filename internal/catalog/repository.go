package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the role/permission
// catalog. Grant and revoke writes are idempotent at the SQL level.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateKey
	}
	return err
}

// CreateRole inserts a new role. (name, guard) must be unique.
func (r *Repository) CreateRole(ctx context.Context, name, guard, label string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, guard, label) VALUES ($1, $2, $3)
		 RETURNING id, name, guard, label, created_at, updated_at`,
		name, guard, label).Scan(&role.ID, &role.Name, &role.Guard, &role.Label, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, mapWriteError(err)
	}
	return role, nil
}

// CreatePermission inserts a new permission. (name, guard) must be unique.
func (r *Repository) CreatePermission(ctx context.Context, name, guard, label string) (Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx,
		`INSERT INTO permissions (name, guard, label) VALUES ($1, $2, $3)
		 RETURNING id, name, guard, label, created_at`,
		name, guard, label).Scan(&perm.ID, &perm.Name, &perm.Guard, &perm.Label, &perm.CreatedAt)
	if err != nil {
		return Permission{}, mapWriteError(err)
	}
	return perm, nil
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, guard, label, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Guard, &role.Label, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// GetPermission fetches a permission by ID.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, guard, label, created_at FROM permissions WHERE id = $1`, id).
		Scan(&perm.ID, &perm.Name, &perm.Guard, &perm.Label, &perm.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrNotFound
	}
	if err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// GetRoleByName fetches a role by its (name, guard) pair.
func (r *Repository) GetRoleByName(ctx context.Context, name, guard string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, guard, label, created_at, updated_at FROM roles WHERE name = $1 AND guard = $2`, name, guard).
		Scan(&role.ID, &role.Name, &role.Guard, &role.Label, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns all roles under the guard ordered by name.
func (r *Repository) ListRoles(ctx context.Context, guard string) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, guard, label, created_at, updated_at FROM roles WHERE guard = $1 ORDER BY name`, guard)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Guard, &role.Label, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListPermissions returns all permissions under the guard ordered by id, which
// is creation order.
func (r *Repository) ListPermissions(ctx context.Context, guard string) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, guard, label, created_at FROM permissions WHERE guard = $1 ORDER BY id`, guard)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Guard, &perm.Label, &perm.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// GrantRole attaches a permission to a role. Granting an existing edge is a no-op.
func (r *Repository) GrantRole(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roleID, permissionID)
	return err
}

// RevokeRole detaches a permission from a role. Revoking an absent edge is a no-op.
func (r *Repository) RevokeRole(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID)
	return err
}

// GrantUser attaches a permission directly to a user, bypassing roles.
func (r *Repository) GrantUser(ctx context.Context, userID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_permissions (user_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, permissionID)
	return err
}

// RevokeUser removes a direct user grant.
func (r *Repository) RevokeUser(ctx context.Context, userID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`,
		userID, permissionID)
	return err
}

// AssignRole assigns a role to a user. Assigning twice is a no-op.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, roleID)
	return err
}

// UnassignRole removes a role from a user.
func (r *Repository) UnassignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		userID, roleID)
	return err
}

// RoleHasPermission reports whether the grant edge exists.
func (r *Repository) RoleHasPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM role_permissions WHERE role_id = $1 AND permission_id = $2)`,
		roleID, permissionID).Scan(&exists)
	return exists, err
}

// RolePermissionNames returns the permission names granted to the role.
func (r *Repository) RolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.name FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1
		 ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNames(rows)
}

// UserResolvedNames returns the deduplicated union of the user's role-derived
// and direct permission names within one guard. Grants living under another
// guard never leak into the result.
func (r *Repository) UserResolvedNames(ctx context.Context, userID int64, guard string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.name FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 JOIN user_roles ur ON ur.role_id = rp.role_id
		 JOIN roles ro ON ro.id = ur.role_id
		 WHERE ur.user_id = $1 AND ro.guard = $2 AND p.guard = $2
		 UNION
		 SELECT p.name FROM permissions p
		 JOIN user_permissions up ON up.permission_id = p.id
		 WHERE up.user_id = $1 AND p.guard = $2
		 ORDER BY 1`, userID, guard)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNames(rows)
}

// UserHasRole reports whether the user is assigned the named role under the guard.
func (r *Repository) UserHasRole(ctx context.Context, userID int64, roleName, guard string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM user_roles ur
			JOIN roles ro ON ro.id = ur.role_id
			WHERE ur.user_id = $1 AND ro.name = $2 AND ro.guard = $3
		)`,
		userID, roleName, guard).Scan(&exists)
	return exists, err
}

func collectNames(rows pgx.Rows) ([]string, error) {
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
