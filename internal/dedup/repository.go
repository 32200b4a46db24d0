package dedup

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glasswerk-erp/glasswerk-authz/internal/catalog"
	"github.com/glasswerk-erp/glasswerk-authz/internal/platform/db"
)

// PgRepository provides PostgreSQL backed persistence for the dedup tool.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// ListAllPermissions returns every permission across all guards ordered by id.
func (r *PgRepository) ListAllPermissions(ctx context.Context) ([]catalog.Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, guard, label, created_at FROM permissions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []catalog.Permission
	for rows.Next() {
		var perm catalog.Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Guard, &perm.Label, &perm.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// MergeGroup re-points role and user grant edges from the duplicates onto the
// canonical permission and deletes the duplicates, all in one transaction. A
// crash mid-merge rolls the group back whole, so a role can never lose a
// permission it previously held.
func (r *PgRepository) MergeGroup(ctx context.Context, canonicalID int64, duplicateIDs []int64) error {
	if len(duplicateIDs) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM permissions WHERE id = $1)`, canonicalID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return catalog.ErrNotFound
		}

		// Insert-then-delete rather than re-pointing in place: an owner that
		// holds edges to several duplicates of the same group would collide on
		// the composite primary key if each edge were rewritten to the
		// canonical individually. The distinct insert collapses them to one
		// canonical edge and ON CONFLICT absorbs an edge the canonical
		// already has.
		if _, err := tx.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_id)
			 SELECT DISTINCT role_id, $1 FROM role_permissions
			 WHERE permission_id = ANY($2)
			 ON CONFLICT DO NOTHING`, canonicalID, duplicateIDs); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM role_permissions WHERE permission_id = ANY($1)`, duplicateIDs); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO user_permissions (user_id, permission_id)
			 SELECT DISTINCT user_id, $1 FROM user_permissions
			 WHERE permission_id = ANY($2)
			 ON CONFLICT DO NOTHING`, canonicalID, duplicateIDs); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM user_permissions WHERE permission_id = ANY($1)`, duplicateIDs); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `DELETE FROM permissions WHERE id = ANY($1)`, duplicateIDs)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != int64(len(duplicateIDs)) {
			// A concurrent mutation removed or re-created a group member.
			return errors.New("dedup: group changed during merge")
		}
		return nil
	})
}
