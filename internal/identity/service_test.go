package identity

import (
	"context"
	"errors"
	"testing"
)

type stubRepo struct {
	users  map[int64]User
	nextID int64
}

func newStubRepo(users ...User) *stubRepo {
	repo := &stubRepo{users: map[int64]User{}, nextID: 1}
	for _, u := range users {
		repo.users[u.ID] = u
		if u.ID >= repo.nextID {
			repo.nextID = u.ID + 1
		}
	}
	return repo
}

func (s *stubRepo) Get(ctx context.Context, id int64) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *stubRepo) GetByEmail(ctx context.Context, email string) (User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *stubRepo) Create(ctx context.Context, params CreateParams) (User, error) {
	u := User{
		ID:          s.nextID,
		Email:       params.Email,
		Name:        params.Name,
		Guard:       params.Guard,
		ParentID:    params.ParentID,
		DXFOverride: params.DXFOverride,
		IsActive:    true,
	}
	s.nextID++
	s.users[u.ID] = u
	return u, nil
}

func (s *stubRepo) List(ctx context.Context) ([]User, error) { return nil, nil }

func (s *stubRepo) ListChildren(ctx context.Context, parentID int64) ([]User, error) {
	var out []User
	for _, u := range s.users {
		if u.ParentID != nil && *u.ParentID == parentID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *stubRepo) HasRole(ctx context.Context, userID int64, roleName, guard string) (bool, error) {
	return false, nil
}

func (s *stubRepo) SetDXFOverride(ctx context.Context, id int64, value bool) error {
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.DXFOverride = value
	s.users[id] = u
	return nil
}

func (s *stubRepo) SetParent(ctx context.Context, id int64, parentID *int64) error {
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.ParentID = parentID
	s.users[id] = u
	return nil
}

type stubSyncer struct {
	fromParentCalls []int64
	childrenCalls   []int64
	updated, failed int
}

func (s *stubSyncer) SyncFromParent(ctx context.Context, userID int64) error {
	s.fromParentCalls = append(s.fromParentCalls, userID)
	return nil
}

func (s *stubSyncer) SyncChildren(ctx context.Context, dealerID int64) (int, int, error) {
	s.childrenCalls = append(s.childrenCalls, dealerID)
	return s.updated, s.failed, nil
}

func ptr(v int64) *int64 { return &v }

func TestCreateWithParentSyncsFlag(t *testing.T) {
	repo := newStubRepo(User{ID: 1, Email: "dealer@example.com", Guard: "web", DXFOverride: true})
	syncer := &stubSyncer{}
	svc := NewService(repo, syncer)

	user, err := svc.Create(context.Background(), CreateParams{
		Email:    "Branch@Example.com ",
		Name:     "Branch",
		Guard:    "web",
		ParentID: ptr(1),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if user.Email != "branch@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if len(syncer.fromParentCalls) != 1 || syncer.fromParentCalls[0] != user.ID {
		t.Fatalf("expected SyncFromParent for the new user, got %v", syncer.fromParentCalls)
	}
}

func TestCreateWithoutParentSkipsSync(t *testing.T) {
	repo := newStubRepo()
	syncer := &stubSyncer{}
	svc := NewService(repo, syncer)

	if _, err := svc.Create(context.Background(), CreateParams{Email: "a@b.com", Name: "A", Guard: "web"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(syncer.fromParentCalls) != 0 {
		t.Fatalf("unexpected sync calls: %v", syncer.fromParentCalls)
	}
}

func TestCreateUnknownParentFails(t *testing.T) {
	svc := NewService(newStubRepo(), &stubSyncer{})
	_, err := svc.Create(context.Background(), CreateParams{Email: "a@b.com", Name: "A", Guard: "web", ParentID: ptr(99)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReassignParentRejectsSelf(t *testing.T) {
	repo := newStubRepo(User{ID: 1, Email: "a@b.com", Guard: "web"})
	svc := NewService(repo, nil)

	if err := svc.ReassignParent(context.Background(), 1, ptr(1)); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestReassignParentRejectsCycleThroughChain(t *testing.T) {
	// 1 <- 2 <- 3; pointing 1 at 3 would close the loop.
	repo := newStubRepo(
		User{ID: 1, Email: "a@b.com", Guard: "web"},
		User{ID: 2, Email: "b@b.com", Guard: "web", ParentID: ptr(1)},
		User{ID: 3, Email: "c@b.com", Guard: "web", ParentID: ptr(2)},
	)
	svc := NewService(repo, nil)

	if err := svc.ReassignParent(context.Background(), 1, ptr(3)); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
	if got, _ := repo.Get(context.Background(), 1); got.ParentID != nil {
		t.Fatalf("rejected reassignment must not persist, got parent %v", got.ParentID)
	}
}

func TestReassignParentValidMoveSyncsFlag(t *testing.T) {
	repo := newStubRepo(
		User{ID: 1, Email: "a@b.com", Guard: "web"},
		User{ID: 2, Email: "b@b.com", Guard: "web"},
	)
	syncer := &stubSyncer{}
	svc := NewService(repo, syncer)

	if err := svc.ReassignParent(context.Background(), 2, ptr(1)); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	got, _ := repo.Get(context.Background(), 2)
	if got.ParentID == nil || *got.ParentID != 1 {
		t.Fatalf("parent not persisted: %v", got.ParentID)
	}
	if len(syncer.fromParentCalls) != 1 || syncer.fromParentCalls[0] != 2 {
		t.Fatalf("expected flag sync for moved user, got %v", syncer.fromParentCalls)
	}
}

func TestReassignParentDetach(t *testing.T) {
	repo := newStubRepo(
		User{ID: 1, Email: "a@b.com", Guard: "web"},
		User{ID: 2, Email: "b@b.com", Guard: "web", ParentID: ptr(1)},
	)
	syncer := &stubSyncer{}
	svc := NewService(repo, syncer)

	if err := svc.ReassignParent(context.Background(), 2, nil); err != nil {
		t.Fatalf("detach: %v", err)
	}
	got, _ := repo.Get(context.Background(), 2)
	if got.ParentID != nil {
		t.Fatalf("still attached: %v", got.ParentID)
	}
	if len(syncer.fromParentCalls) != 0 {
		t.Fatalf("detach must not trigger inheritance sync")
	}
}

func TestSetDXFOverrideReturnsFanOutCounts(t *testing.T) {
	repo := newStubRepo(User{ID: 1, Email: "a@b.com", Guard: "web"})
	syncer := &stubSyncer{updated: 3, failed: 1}
	svc := NewService(repo, syncer)

	updated, failed, err := svc.SetDXFOverride(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("set override: %v", err)
	}
	if updated != 3 || failed != 1 {
		t.Fatalf("counts not surfaced: %d/%d", updated, failed)
	}
	got, _ := repo.Get(context.Background(), 1)
	if !got.DXFOverride {
		t.Fatalf("flag not persisted")
	}
	if len(syncer.childrenCalls) != 1 || syncer.childrenCalls[0] != 1 {
		t.Fatalf("expected children fan-out for user 1, got %v", syncer.childrenCalls)
	}
}

func TestSetDXFOverrideUnknownUserSkipsFanOut(t *testing.T) {
	syncer := &stubSyncer{}
	svc := NewService(newStubRepo(), syncer)

	_, _, err := svc.SetDXFOverride(context.Background(), 42, true)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(syncer.childrenCalls) != 0 {
		t.Fatalf("fan-out must not run after failed persist")
	}
}
