// Package matrix applies bulk role×permission toggles for the admin grid view.
package matrix

import (
	"context"
	"strconv"

	"log/slog"

	"github.com/google/uuid"

	"github.com/glasswerk-erp/glasswerk-authz/internal/audit"
)

// Repository is the slice of the catalog the mutator writes through. Every
// write is idempotent per edge.
type Repository interface {
	RoleHasPermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	GrantRole(ctx context.Context, roleID, permissionID int64) error
	RevokeRole(ctx context.Context, roleID, permissionID int64) error
}

// Invalidator drops the resolved permission cache. Batch operations call it
// exactly once after the whole batch, not once per cell.
type Invalidator interface {
	InvalidateAll(ctx context.Context) error
}

// AuditRecorder persists toggle outcomes for the operator timeline.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// BatchResult summarises a row or column toggle. Items that error are counted
// and logged, never silently dropped; untouched cells outside the supplied
// visible subset are never considered.
type BatchResult struct {
	BatchID string
	Granted int
	Revoked int
	Failed  int
}

// Mutator performs the toggle operations behind the permission matrix UI.
type Mutator struct {
	repo   Repository
	cache  Invalidator
	audits AuditRecorder
	logger *slog.Logger
}

// NewMutator builds Mutator instance.
func NewMutator(repo Repository, cache Invalidator, audits AuditRecorder, logger *slog.Logger) *Mutator {
	return &Mutator{repo: repo, cache: cache, audits: audits, logger: logger}
}

// ToggleCell flips exactly one grant edge and returns the new state for the
// UI to echo.
func (m *Mutator) ToggleCell(ctx context.Context, actorID, roleID, permissionID int64) (bool, error) {
	granted, err := m.repo.RoleHasPermission(ctx, roleID, permissionID)
	if err != nil {
		return false, err
	}
	if granted {
		err = m.repo.RevokeRole(ctx, roleID, permissionID)
	} else {
		err = m.repo.GrantRole(ctx, roleID, permissionID)
	}
	if err != nil {
		return granted, err
	}
	if err := m.invalidate(ctx); err != nil {
		return !granted, err
	}
	m.record(ctx, actorID, "matrix.toggle_cell", roleID, map[string]any{
		"permission_id": permissionID,
		"granted":       !granted,
	})
	return !granted, nil
}

// ToggleRow sets the role to fully granted across the visible permissions,
// unless it already is, in which case it clears them all. Only the
// caller-supplied subset is considered: whatever is hidden by the UI's search
// or pagination stays untouched.
func (m *Mutator) ToggleRow(ctx context.Context, actorID, roleID int64, visiblePermissionIDs []int64) (BatchResult, error) {
	states := make(map[int64]bool, len(visiblePermissionIDs))
	allGranted := len(visiblePermissionIDs) > 0
	for _, permID := range visiblePermissionIDs {
		granted, err := m.repo.RoleHasPermission(ctx, roleID, permID)
		if err != nil {
			return BatchResult{}, err
		}
		states[permID] = granted
		if !granted {
			allGranted = false
		}
	}

	result := BatchResult{BatchID: uuid.NewString()}
	for _, permID := range visiblePermissionIDs {
		var err error
		if allGranted {
			err = m.repo.RevokeRole(ctx, roleID, permID)
		} else if !states[permID] {
			err = m.repo.GrantRole(ctx, roleID, permID)
		} else {
			continue
		}
		if err != nil {
			result.Failed++
			if m.logger != nil {
				m.logger.Error("matrix toggle row item",
					slog.String("batch_id", result.BatchID),
					slog.Int64("role_id", roleID),
					slog.Int64("permission_id", permID),
					slog.Any("error", err))
			}
			continue
		}
		if allGranted {
			result.Revoked++
		} else {
			result.Granted++
		}
	}
	if err := m.invalidate(ctx); err != nil {
		return result, err
	}
	m.record(ctx, actorID, "matrix.toggle_row", roleID, map[string]any{
		"batch_id": result.BatchID,
		"granted":  result.Granted,
		"revoked":  result.Revoked,
		"failed":   result.Failed,
	})
	return result, nil
}

// ToggleColumn is the symmetric operation across the visible roles for one
// permission.
func (m *Mutator) ToggleColumn(ctx context.Context, actorID, permissionID int64, visibleRoleIDs []int64) (BatchResult, error) {
	states := make(map[int64]bool, len(visibleRoleIDs))
	allGranted := len(visibleRoleIDs) > 0
	for _, roleID := range visibleRoleIDs {
		granted, err := m.repo.RoleHasPermission(ctx, roleID, permissionID)
		if err != nil {
			return BatchResult{}, err
		}
		states[roleID] = granted
		if !granted {
			allGranted = false
		}
	}

	result := BatchResult{BatchID: uuid.NewString()}
	for _, roleID := range visibleRoleIDs {
		var err error
		if allGranted {
			err = m.repo.RevokeRole(ctx, roleID, permissionID)
		} else if !states[roleID] {
			err = m.repo.GrantRole(ctx, roleID, permissionID)
		} else {
			continue
		}
		if err != nil {
			result.Failed++
			if m.logger != nil {
				m.logger.Error("matrix toggle column item",
					slog.String("batch_id", result.BatchID),
					slog.Int64("role_id", roleID),
					slog.Int64("permission_id", permissionID),
					slog.Any("error", err))
			}
			continue
		}
		if allGranted {
			result.Revoked++
		} else {
			result.Granted++
		}
	}
	if err := m.invalidate(ctx); err != nil {
		return result, err
	}
	m.record(ctx, actorID, "matrix.toggle_column", permissionID, map[string]any{
		"batch_id": result.BatchID,
		"granted":  result.Granted,
		"revoked":  result.Revoked,
		"failed":   result.Failed,
	})
	return result, nil
}

func (m *Mutator) invalidate(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	return m.cache.InvalidateAll(ctx)
}

func (m *Mutator) record(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if m.audits == nil {
		return
	}
	entry := audit.Entry{
		ActorID:  actorID,
		Action:   action,
		Entity:   "role_permission",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}
	if err := m.audits.Record(ctx, entry); err != nil && m.logger != nil {
		m.logger.Warn("matrix audit record", slog.String("action", action), slog.Any("error", err))
	}
}
