package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository provides PostgreSQL backed timeline reads.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// TimelineWindow returns a window of audit events ordered most recent first.
func (r *PgRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	query := `SELECT occurred_at, actor_id, action, entity, entity_id, meta
		FROM audit_logs
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
		  AND ($3::text IS NULL OR entity = $3)
		  AND ($4::text IS NULL OR action = $4)
		ORDER BY occurred_at DESC
		LIMIT $5 OFFSET $6`
	rows, err := r.pool.Query(ctx, query,
		nullTime(filters.From), nullTime(filters.To),
		nullText(filters.Entity), nullText(filters.Action),
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var meta []byte
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		row.Meta = decodeMeta(meta)
		result = append(result, row)
	}
	return result, rows.Err()
}

// decodeMeta parses a stored meta document. A row whose meta does not parse is
// still part of the timeline, so the raw payload is surfaced instead of being
// dropped.
func decodeMeta(meta []byte) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(meta, &decoded); err != nil {
		return map[string]any{"raw": string(meta)}
	}
	return decoded
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullText(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return trimmed
}
