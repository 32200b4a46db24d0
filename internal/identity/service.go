package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, params CreateParams) (User, error)
	List(ctx context.Context) ([]User, error)
	ListChildren(ctx context.Context, parentID int64) ([]User, error)
	HasRole(ctx context.Context, userID int64, roleName, guard string) (bool, error)
	SetDXFOverride(ctx context.Context, id int64, value bool) error
	SetParent(ctx context.Context, id int64, parentID *int64) error
}

// FlagSyncer re-synchronizes the inherited DXF flag after identity mutations.
// Wired to the inheritance propagator in main.
type FlagSyncer interface {
	// SyncFromParent copies the nearest dealer ancestor's flag onto this one user.
	SyncFromParent(ctx context.Context, userID int64) error
	// SyncChildren fans the user's flag out to its direct children; returns how
	// many were updated and how many failed.
	SyncChildren(ctx context.Context, dealerID int64) (updated, failed int, err error)
}

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	syncer FlagSyncer
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, syncer FlagSyncer) *Service {
	return &Service{repo: repo, syncer: syncer}
}

// Get fetches a user by ID.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Create inserts a new user. A user created with a parent immediately inherits
// the DXF flag from its nearest dealer ancestor.
func (s *Service) Create(ctx context.Context, params CreateParams) (User, error) {
	params.Email = strings.TrimSpace(strings.ToLower(params.Email))
	params.Name = strings.TrimSpace(params.Name)
	if params.Email == "" {
		return User{}, errors.New("identity: email required")
	}
	if params.Guard == "" {
		return User{}, errors.New("identity: guard required")
	}
	if params.ParentID != nil {
		if _, err := s.repo.Get(ctx, *params.ParentID); err != nil {
			return User{}, fmt.Errorf("identity: parent: %w", err)
		}
	}
	user, err := s.repo.Create(ctx, params)
	if err != nil {
		return User{}, err
	}
	if user.ParentID != nil && s.syncer != nil {
		if err := s.syncer.SyncFromParent(ctx, user.ID); err != nil {
			return User{}, err
		}
		return s.repo.Get(ctx, user.ID)
	}
	return user, nil
}

// ReassignParent re-points a user's parent reference. The new ancestry is
// walked before commit; a chain that leads back to the user is rejected with
// ErrCycleDetected. Passing nil detaches the user from the hierarchy.
func (s *Service) ReassignParent(ctx context.Context, userID int64, parentID *int64) error {
	if _, err := s.repo.Get(ctx, userID); err != nil {
		return err
	}
	if parentID != nil {
		if *parentID == userID {
			return ErrCycleDetected
		}
		if err := s.checkAncestry(ctx, userID, *parentID); err != nil {
			return err
		}
	}
	if err := s.repo.SetParent(ctx, userID, parentID); err != nil {
		return err
	}
	if parentID != nil && s.syncer != nil {
		return s.syncer.SyncFromParent(ctx, userID)
	}
	return nil
}

// SetDXFOverride updates the DXF capability flag and fans it out to the user's
// direct children. Per-child failures do not abort the fan-out; the counts are
// returned for the caller to report.
func (s *Service) SetDXFOverride(ctx context.Context, userID int64, value bool) (updated, failed int, err error) {
	if err := s.repo.SetDXFOverride(ctx, userID, value); err != nil {
		return 0, 0, err
	}
	if s.syncer == nil {
		return 0, 0, nil
	}
	return s.syncer.SyncChildren(ctx, userID)
}

// checkAncestry walks upward from the candidate parent and fails if the chain
// reaches userID. The walk is bounded to guard against pre-existing bad data.
func (s *Service) checkAncestry(ctx context.Context, userID, parentID int64) error {
	const maxDepth = 64
	current := parentID
	for i := 0; i < maxDepth; i++ {
		ancestor, err := s.repo.Get(ctx, current)
		if err != nil {
			return fmt.Errorf("identity: ancestor %d: %w", current, err)
		}
		if ancestor.ParentID == nil {
			return nil
		}
		if *ancestor.ParentID == userID {
			return ErrCycleDetected
		}
		current = *ancestor.ParentID
	}
	return ErrCycleDetected
}
