// Package dedup remediates case and whitespace variants of permission names,
// a known data-quality defect class the catalog deliberately does not reject
// at creation time.
package dedup

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"log/slog"

	"golang.org/x/text/cases"

	"github.com/glasswerk-erp/glasswerk-authz/internal/audit"
	"github.com/glasswerk-erp/glasswerk-authz/internal/catalog"
)

// ErrMergeConflict indicates a concurrent mutation raced a group merge twice.
var ErrMergeConflict = errors.New("dedup: merge conflict")

// Repository provides the scan and the per-group transactional merge.
type Repository interface {
	ListAllPermissions(ctx context.Context) ([]catalog.Permission, error)
	// MergeGroup re-points every grant edge from the duplicates onto the
	// canonical permission, dropping edges the canonical already has, then
	// deletes the duplicates. Runs in a single transaction.
	MergeGroup(ctx context.Context, canonicalID int64, duplicateIDs []int64) error
}

// Invalidator drops the resolved permission cache once after the whole run.
type Invalidator interface {
	InvalidateAll(ctx context.Context) error
}

// AuditRecorder persists merge outcomes.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// GroupReport describes one merged duplicate group.
type GroupReport struct {
	CanonicalID   int64
	CanonicalName string
	Guard         string
	RemovedIDs    []int64
}

// Report summarises a dedup run.
type Report struct {
	Scanned int
	Groups  []GroupReport
}

// Service performs the duplicate remediation maintenance operation.
type Service struct {
	repo   Repository
	cache  Invalidator
	audits AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo Repository, cache Invalidator, audits AuditRecorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, audits: audits, logger: logger}
}

// Run scans all permissions, groups them per guard by case-folded trimmed
// name, and merges every group with more than one member onto its canonical
// record (first by creation order). Each group is transactional; a raced group
// is retried once. The cache is invalidated once at the end.
func (s *Service) Run(ctx context.Context, actorID int64) (Report, error) {
	perms, err := s.repo.ListAllPermissions(ctx)
	if err != nil {
		return Report{}, err
	}
	report := Report{Scanned: len(perms)}

	for _, group := range groupDuplicates(perms) {
		canonical := group[0]
		duplicateIDs := make([]int64, 0, len(group)-1)
		for _, dup := range group[1:] {
			duplicateIDs = append(duplicateIDs, dup.ID)
		}
		if err := s.mergeWithRetry(ctx, canonical.ID, duplicateIDs); err != nil {
			// Earlier groups have already committed; their entries must not
			// stay resolvable from the cache just because this group failed.
			s.invalidateCommitted(ctx, report)
			return report, err
		}
		report.Groups = append(report.Groups, GroupReport{
			CanonicalID:   canonical.ID,
			CanonicalName: canonical.Name,
			Guard:         canonical.Guard,
			RemovedIDs:    duplicateIDs,
		})
		s.record(ctx, actorID, canonical, duplicateIDs)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateAll(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *Service) invalidateCommitted(ctx context.Context, report Report) {
	if s.cache == nil || len(report.Groups) == 0 {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil && s.logger != nil {
		s.logger.Error("dedup cache invalidate", slog.Any("error", err))
	}
}

func (s *Service) mergeWithRetry(ctx context.Context, canonicalID int64, duplicateIDs []int64) error {
	err := s.repo.MergeGroup(ctx, canonicalID, duplicateIDs)
	if err == nil {
		return nil
	}
	if s.logger != nil {
		s.logger.Warn("dedup merge retry", slog.Int64("canonical_id", canonicalID), slog.Any("error", err))
	}
	if retryErr := s.repo.MergeGroup(ctx, canonicalID, duplicateIDs); retryErr != nil {
		// Surface the concrete structural error when the retry tells us one.
		if errors.Is(retryErr, catalog.ErrNotFound) || errors.Is(retryErr, catalog.ErrDuplicateKey) {
			return retryErr
		}
		return ErrMergeConflict
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, canonical catalog.Permission, removed []int64) {
	if s.audits == nil {
		return
	}
	entry := audit.Entry{
		ActorID:  actorID,
		Action:   "dedup.merge",
		Entity:   "permission",
		EntityID: strconv.FormatInt(canonical.ID, 10),
		Meta: map[string]any{
			"name":        canonical.Name,
			"guard":       canonical.Guard,
			"removed_ids": removed,
		},
	}
	if err := s.audits.Record(ctx, entry); err != nil && s.logger != nil {
		s.logger.Warn("dedup audit record", slog.Any("error", err))
	}
}

// groupDuplicates buckets permissions per guard by case-folded trimmed name
// and returns only buckets with more than one member, each ordered by id so
// the first element is the canonical record.
func groupDuplicates(perms []catalog.Permission) [][]catalog.Permission {
	fold := cases.Fold()
	buckets := make(map[string][]catalog.Permission)
	var order []string
	for _, perm := range perms {
		key := perm.Guard + "\x00" + fold.String(strings.TrimSpace(perm.Name))
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], perm)
	}
	var groups [][]catalog.Permission
	for _, key := range order {
		group := buckets[key]
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		groups = append(groups, group)
	}
	return groups
}
