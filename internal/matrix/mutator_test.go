package matrix

import (
	"context"
	"testing"

	"log/slog"

	"github.com/stretchr/testify/require"

	"github.com/glasswerk-erp/glasswerk-authz/internal/audit"
)

type edge struct{ role, perm int64 }

type stubRepo struct {
	edges map[edge]struct{}
}

func newStubRepo() *stubRepo {
	return &stubRepo{edges: map[edge]struct{}{}}
}

func (s *stubRepo) RoleHasPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	_, ok := s.edges[edge{roleID, permissionID}]
	return ok, nil
}

func (s *stubRepo) GrantRole(ctx context.Context, roleID, permissionID int64) error {
	s.edges[edge{roleID, permissionID}] = struct{}{}
	return nil
}

func (s *stubRepo) RevokeRole(ctx context.Context, roleID, permissionID int64) error {
	delete(s.edges, edge{roleID, permissionID})
	return nil
}

type spyInvalidator struct {
	calls int
}

func (s *spyInvalidator) InvalidateAll(ctx context.Context) error {
	s.calls++
	return nil
}

type memRecorder struct {
	entries []audit.Entry
}

func (m *memRecorder) Record(ctx context.Context, entry audit.Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func newTestMutator() (*Mutator, *stubRepo, *spyInvalidator, *memRecorder) {
	repo := newStubRepo()
	inv := &spyInvalidator{}
	rec := &memRecorder{}
	return NewMutator(repo, inv, rec, slog.Default()), repo, inv, rec
}

func TestToggleCellFlipsAndEchoes(t *testing.T) {
	m, repo, inv, _ := newTestMutator()
	ctx := context.Background()

	granted, err := m.ToggleCell(ctx, 1, 10, 100)
	require.NoError(t, err)
	require.True(t, granted)
	_, exists := repo.edges[edge{10, 100}]
	require.True(t, exists)

	granted, err = m.ToggleCell(ctx, 1, 10, 100)
	require.NoError(t, err)
	require.False(t, granted)
	_, exists = repo.edges[edge{10, 100}]
	require.False(t, exists)

	require.Equal(t, 2, inv.calls)
}

func TestToggleRowGrantsWhenAnyMissing(t *testing.T) {
	m, repo, inv, _ := newTestMutator()
	ctx := context.Background()

	// P1 granted, P2 not: the set is not fully granted, so the row fills in P2
	// rather than revoking P1.
	require.NoError(t, repo.GrantRole(ctx, 10, 1))
	result, err := m.ToggleRow(ctx, 1, 10, []int64{1, 2})
	require.NoError(t, err)
	require.Equal(t, 1, result.Granted)
	require.Equal(t, 0, result.Revoked)
	_, p1 := repo.edges[edge{10, 1}]
	_, p2 := repo.edges[edge{10, 2}]
	require.True(t, p1)
	require.True(t, p2)
	require.Equal(t, 1, inv.calls, "batch invalidates exactly once")

	// Now fully granted: the same call clears the whole row.
	result, err = m.ToggleRow(ctx, 1, 10, []int64{1, 2})
	require.NoError(t, err)
	require.Equal(t, 2, result.Revoked)
	require.Empty(t, repo.edges)
	require.Equal(t, 2, inv.calls)
}

func TestToggleRowOnlyTouchesVisibleSubset(t *testing.T) {
	m, repo, _, _ := newTestMutator()
	ctx := context.Background()

	require.NoError(t, repo.GrantRole(ctx, 10, 1))
	require.NoError(t, repo.GrantRole(ctx, 10, 99)) // hidden by the UI filter

	// Visible subset {1} is fully granted, so it clears, but only inside the
	// subset.
	result, err := m.ToggleRow(ctx, 1, 10, []int64{1})
	require.NoError(t, err)
	require.Equal(t, 1, result.Revoked)
	_, hidden := repo.edges[edge{10, 99}]
	require.True(t, hidden, "permissions outside the visible set must survive")
}

func TestToggleColumnScoping(t *testing.T) {
	m, repo, inv, _ := newTestMutator()
	ctx := context.Background()

	// Role 30 has an identical grant state to the toggled roles but is outside
	// the supplied view.
	require.NoError(t, repo.GrantRole(ctx, 30, 5))

	result, err := m.ToggleColumn(ctx, 1, 5, []int64{10, 20})
	require.NoError(t, err)
	require.Equal(t, 2, result.Granted)
	_, r10 := repo.edges[edge{10, 5}]
	_, r20 := repo.edges[edge{20, 5}]
	_, r30 := repo.edges[edge{30, 5}]
	require.True(t, r10)
	require.True(t, r20)
	require.True(t, r30, "role outside the view must keep its grant")

	// All visible roles now granted: toggling clears them, role 30 untouched.
	result, err = m.ToggleColumn(ctx, 1, 5, []int64{10, 20})
	require.NoError(t, err)
	require.Equal(t, 2, result.Revoked)
	_, r30 = repo.edges[edge{30, 5}]
	require.True(t, r30)
	require.Equal(t, 2, inv.calls)
}

func TestBatchAuditRecorded(t *testing.T) {
	m, _, _, rec := newTestMutator()
	ctx := context.Background()

	result, err := m.ToggleRow(ctx, 7, 10, []int64{1, 2})
	require.NoError(t, err)
	require.NotEmpty(t, result.BatchID)
	require.Len(t, rec.entries, 1)
	require.Equal(t, int64(7), rec.entries[0].ActorID)
	require.Equal(t, "matrix.toggle_row", rec.entries[0].Action)
	require.Equal(t, result.BatchID, rec.entries[0].Meta["batch_id"])
}
