package dedup

import (
	"context"
	"errors"
	"testing"

	"log/slog"

	"github.com/glasswerk-erp/glasswerk-authz/internal/catalog"
)

type grantEdge struct{ owner, perm int64 }

type stubRepo struct {
	perms      []catalog.Permission
	roleGrants map[grantEdge]struct{}
	userGrants map[grantEdge]struct{}
	failures   map[int64]int // canonicalID -> remaining forced failures
	failWith   error
	mergeCalls int
}

func (s *stubRepo) ListAllPermissions(ctx context.Context) ([]catalog.Permission, error) {
	return s.perms, nil
}

func (s *stubRepo) MergeGroup(ctx context.Context, canonicalID int64, duplicateIDs []int64) error {
	s.mergeCalls++
	if remaining := s.failures[canonicalID]; remaining > 0 {
		s.failures[canonicalID] = remaining - 1
		if s.failWith != nil {
			return s.failWith
		}
		return errors.New("serialization failure")
	}
	dups := map[int64]struct{}{}
	for _, id := range duplicateIDs {
		dups[id] = struct{}{}
	}
	repoint := func(grants map[grantEdge]struct{}) {
		for e := range grants {
			if _, isDup := dups[e.perm]; isDup {
				delete(grants, e)
				grants[grantEdge{e.owner, canonicalID}] = struct{}{}
			}
		}
	}
	repoint(s.roleGrants)
	repoint(s.userGrants)
	var kept []catalog.Permission
	for _, perm := range s.perms {
		if _, isDup := dups[perm.ID]; !isDup {
			kept = append(kept, perm)
		}
	}
	s.perms = kept
	return nil
}

type spyInvalidator struct {
	calls int
}

func (s *spyInvalidator) InvalidateAll(ctx context.Context) error {
	s.calls++
	return nil
}

func TestGroupDuplicates(t *testing.T) {
	perms := []catalog.Permission{
		{ID: 3, Name: "view order", Guard: "web"},
		{ID: 1, Name: "View Order", Guard: "web"},
		{ID: 2, Name: " view order ", Guard: "web"},
		{ID: 4, Name: "view order", Guard: "api"},
		{ID: 5, Name: "create order", Guard: "web"},
	}
	groups := groupDuplicates(perms)
	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(groups))
	}
	group := groups[0]
	if len(group) != 3 {
		t.Fatalf("expected 3 members, got %d", len(group))
	}
	if group[0].ID != 1 {
		t.Fatalf("canonical must be first by creation order, got id %d", group[0].ID)
	}
}

func TestRunMergesCaseVariants(t *testing.T) {
	// Role A holds only "View Order", Role B holds only "view order". After the
	// run one canonical permission remains and both roles hold it.
	repo := &stubRepo{
		perms: []catalog.Permission{
			{ID: 1, Name: "View Order", Guard: "web"},
			{ID: 2, Name: "view order", Guard: "web"},
		},
		roleGrants: map[grantEdge]struct{}{
			{100, 1}: {},
			{200, 2}: {},
		},
		userGrants: map[grantEdge]struct{}{},
		failures:   map[int64]int{},
	}
	inv := &spyInvalidator{}
	svc := NewService(repo, inv, nil, slog.Default())

	report, err := svc.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Groups) != 1 {
		t.Fatalf("expected 1 merged group, got %d", len(report.Groups))
	}
	if report.Groups[0].CanonicalID != 1 {
		t.Fatalf("expected canonical id 1, got %d", report.Groups[0].CanonicalID)
	}
	if len(repo.perms) != 1 || repo.perms[0].ID != 1 {
		t.Fatalf("expected only canonical permission to survive, got %+v", repo.perms)
	}
	if _, ok := repo.roleGrants[grantEdge{100, 1}]; !ok {
		t.Fatalf("role A lost its grant")
	}
	if _, ok := repo.roleGrants[grantEdge{200, 1}]; !ok {
		t.Fatalf("role B grant was not re-pointed to the canonical")
	}
	if inv.calls != 1 {
		t.Fatalf("expected a single invalidation at the end, got %d", inv.calls)
	}
}

func TestRunMergeAlreadyPresentEdgeIsDropped(t *testing.T) {
	repo := &stubRepo{
		perms: []catalog.Permission{
			{ID: 1, Name: "access dxf", Guard: "web"},
			{ID: 2, Name: "Access DXF", Guard: "web"},
		},
		roleGrants: map[grantEdge]struct{}{
			{100, 1}: {},
			{100, 2}: {},
		},
		userGrants: map[grantEdge]struct{}{},
		failures:   map[int64]int{},
	}
	svc := NewService(repo, &spyInvalidator{}, nil, slog.Default())

	if _, err := svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(repo.roleGrants) != 1 {
		t.Fatalf("duplicate edge must merge, not multiply: %+v", repo.roleGrants)
	}
}

func TestRunCollapsesMultipleDuplicateEdgesOfOneOwner(t *testing.T) {
	// A role (and a user) holding grants to two duplicates of the same group
	// must end up with exactly one edge to the canonical, not a key conflict.
	repo := &stubRepo{
		perms: []catalog.Permission{
			{ID: 5, Name: "View Order", Guard: "web"},
			{ID: 8, Name: "view order", Guard: "web"},
			{ID: 9, Name: "VIEW ORDER", Guard: "web"},
		},
		roleGrants: map[grantEdge]struct{}{
			{100, 8}: {},
			{100, 9}: {},
		},
		userGrants: map[grantEdge]struct{}{
			{300, 8}: {},
			{300, 9}: {},
		},
		failures: map[int64]int{},
	}
	inv := &spyInvalidator{}
	svc := NewService(repo, inv, nil, slog.Default())

	report, err := svc.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if repo.mergeCalls != 1 {
		t.Fatalf("expected a single clean merge, got %d calls", repo.mergeCalls)
	}
	if len(report.Groups) != 1 || report.Groups[0].CanonicalID != 5 {
		t.Fatalf("unexpected report: %+v", report.Groups)
	}
	if len(repo.roleGrants) != 1 {
		t.Fatalf("role edges must collapse onto the canonical: %+v", repo.roleGrants)
	}
	if _, ok := repo.roleGrants[grantEdge{100, 5}]; !ok {
		t.Fatalf("role grant missing after merge: %+v", repo.roleGrants)
	}
	if len(repo.userGrants) != 1 {
		t.Fatalf("user edges must collapse onto the canonical: %+v", repo.userGrants)
	}
	if _, ok := repo.userGrants[grantEdge{300, 5}]; !ok {
		t.Fatalf("user grant missing after merge: %+v", repo.userGrants)
	}
	if len(repo.perms) != 1 || repo.perms[0].ID != 5 {
		t.Fatalf("expected only the canonical to survive, got %+v", repo.perms)
	}
}

func TestRunInvalidatesCommittedGroupsOnPartialFailure(t *testing.T) {
	// The first group merges and commits; the second keeps conflicting. The
	// run must still invalidate the cache for the committed merge.
	repo := &stubRepo{
		perms: []catalog.Permission{
			{ID: 1, Name: "view order", Guard: "web"},
			{ID: 2, Name: "View Order", Guard: "web"},
			{ID: 3, Name: "create order", Guard: "web"},
			{ID: 4, Name: "Create Order", Guard: "web"},
		},
		roleGrants: map[grantEdge]struct{}{},
		userGrants: map[grantEdge]struct{}{},
		failures:   map[int64]int{3: 2},
	}
	inv := &spyInvalidator{}
	svc := NewService(repo, inv, nil, slog.Default())

	report, err := svc.Run(context.Background(), 1)
	if !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}
	if len(report.Groups) != 1 || report.Groups[0].CanonicalID != 1 {
		t.Fatalf("expected the first group to have committed: %+v", report.Groups)
	}
	if inv.calls != 1 {
		t.Fatalf("committed merges must invalidate the cache, got %d calls", inv.calls)
	}
}

func TestRunRetriesRacedGroupOnce(t *testing.T) {
	repo := &stubRepo{
		perms: []catalog.Permission{
			{ID: 1, Name: "view order", Guard: "web"},
			{ID: 2, Name: "View Order", Guard: "web"},
		},
		roleGrants: map[grantEdge]struct{}{},
		userGrants: map[grantEdge]struct{}{},
		failures:   map[int64]int{1: 1},
	}
	svc := NewService(repo, &spyInvalidator{}, nil, slog.Default())

	if _, err := svc.Run(context.Background(), 1); err != nil {
		t.Fatalf("run after single retry: %v", err)
	}
	if repo.mergeCalls != 2 {
		t.Fatalf("expected retry, got %d merge calls", repo.mergeCalls)
	}
}

func TestRunSurfacesConflictAfterSecondFailure(t *testing.T) {
	repo := &stubRepo{
		perms: []catalog.Permission{
			{ID: 1, Name: "view order", Guard: "web"},
			{ID: 2, Name: "View Order", Guard: "web"},
		},
		roleGrants: map[grantEdge]struct{}{},
		userGrants: map[grantEdge]struct{}{},
		failures:   map[int64]int{1: 2},
	}
	svc := NewService(repo, &spyInvalidator{}, nil, slog.Default())

	_, err := svc.Run(context.Background(), 1)
	if !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}
}

func TestRunSurfacesStructuralErrorFromRetry(t *testing.T) {
	repo := &stubRepo{
		perms: []catalog.Permission{
			{ID: 1, Name: "view order", Guard: "web"},
			{ID: 2, Name: "View Order", Guard: "web"},
		},
		roleGrants: map[grantEdge]struct{}{},
		userGrants: map[grantEdge]struct{}{},
		failures:   map[int64]int{1: 2},
		failWith:   catalog.ErrNotFound,
	}
	svc := NewService(repo, &spyInvalidator{}, nil, slog.Default())

	_, err := svc.Run(context.Background(), 1)
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound surfaced, got %v", err)
	}
}
