package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for users.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, name, guard, parent_id, dxf_override, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Guard, &u.ParentID, &u.DXFOverride, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// Get fetches a user by ID.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail fetches a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// CreateParams carries the attributes for a new user.
type CreateParams struct {
	Email       string
	Name        string
	Guard       string
	ParentID    *int64
	DXFOverride bool
}

// Create inserts a new user.
func (r *Repository) Create(ctx context.Context, params CreateParams) (User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, guard, parent_id, dxf_override, is_active)
		 VALUES ($1, $2, $3, $4, $5, TRUE)
		 RETURNING `+userColumns,
		params.Email, params.Name, params.Guard, params.ParentID, params.DXFOverride)
	return scanUser(row)
}

// List returns all users ordered by id.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// ListChildren returns the direct children of the given user.
func (r *Repository) ListChildren(ctx context.Context, parentID int64) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE parent_id = $1 ORDER BY id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// ListByRole returns users assigned the named role under the guard.
func (r *Repository) ListByRole(ctx context.Context, roleName, guard string) ([]User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.email, u.name, u.guard, u.parent_id, u.dxf_override, u.is_active, u.created_at, u.updated_at
		 FROM users u
		 JOIN user_roles ur ON ur.user_id = u.id
		 JOIN roles ro ON ro.id = ur.role_id
		 WHERE ro.name = $1 AND ro.guard = $2
		 ORDER BY u.id`,
		roleName, guard)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// HasRole reports whether the user is assigned the named role under the guard.
func (r *Repository) HasRole(ctx context.Context, userID int64, roleName, guard string) (bool, error) {
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

// SetDXFOverride updates the DXF capability flag for one user.
func (r *Repository) SetDXFOverride(ctx context.Context, id int64, value bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET dxf_override = $2, updated_at = NOW() WHERE id = $1`, id, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetParent re-points the user's parent reference.
func (r *Repository) SetParent(ctx context.Context, id int64, parentID *int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET parent_id = $2, updated_at = NOW() WHERE id = $1`, id, parentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Guard, &u.ParentID, &u.DXFOverride, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
