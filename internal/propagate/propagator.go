// Package propagate keeps the DXF capability flag consistent down a user's
// descendant chain whenever a dealer-rooted subtree changes.
package propagate

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/glasswerk-erp/glasswerk-authz/internal/identity"
)

// DefaultDealerRole is the role name that roots an inheritance subtree.
const DefaultDealerRole = "dealer"

// Repository is the slice of identity persistence the propagator drives.
type Repository interface {
	Get(ctx context.Context, id int64) (identity.User, error)
	ListChildren(ctx context.Context, parentID int64) ([]identity.User, error)
	ListByRole(ctx context.Context, roleName, guard string) ([]identity.User, error)
	HasRole(ctx context.Context, userID int64, roleName, guard string) (bool, error)
	SetDXFOverride(ctx context.Context, id int64, value bool) error
}

// Result reports a fan-out run. A partial failure is not an error: per-child
// problems are logged and counted so one bad record never blocks the rest of
// the tree.
type Result struct {
	Total   int
	Updated int
	Failed  int
}

// String renders the "N of M updated" completion summary.
func (r Result) String() string {
	return fmt.Sprintf("%d of %d updated", r.Updated, r.Total)
}

// Propagator synchronizes inherited DXF flags. All runs are idempotent:
// re-applying with no intervening state change rewrites the same values.
type Propagator struct {
	repo       Repository
	logger     *slog.Logger
	dealerRole string
}

// New builds a Propagator.
func New(repo Repository, logger *slog.Logger, dealerRole string) *Propagator {
	if dealerRole == "" {
		dealerRole = DefaultDealerRole
	}
	return &Propagator{repo: repo, logger: logger, dealerRole: dealerRole}
}

// SyncChildren copies the dealer's flag onto every direct child. Fan-out is
// best-effort: an error updating one child is logged with the child's id and
// the loop continues.
func (p *Propagator) SyncChildren(ctx context.Context, dealerID int64) (Result, error) {
	dealer, err := p.repo.Get(ctx, dealerID)
	if err != nil {
		return Result{}, err
	}
	children, err := p.repo.ListChildren(ctx, dealerID)
	if err != nil {
		return Result{}, err
	}
	result := Result{Total: len(children)}
	for _, child := range children {
		if err := p.repo.SetDXFOverride(ctx, child.ID, dealer.DXFOverride); err != nil {
			result.Failed++
			if p.logger != nil {
				p.logger.Error("propagate child flag",
					slog.Int64("dealer_id", dealerID),
					slog.Int64("child_id", child.ID),
					slog.Any("error", err))
			}
			continue
		}
		result.Updated++
	}
	return result, nil
}

// SyncFromParent resolves the user's parent chain upward until a dealer-role
// ancestor is found and copies that ancestor's flag onto this one user. The
// user's own descendants are not touched; they re-synchronize when they are
// next saved.
func (p *Propagator) SyncFromParent(ctx context.Context, userID int64) error {
	user, err := p.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	if user.ParentID == nil {
		return nil
	}
	dealer, found, err := p.nearestDealer(ctx, *user.ParentID, user.Guard)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return p.repo.SetDXFOverride(ctx, userID, dealer.DXFOverride)
}

// SyncAll fans every dealer-rooted tree out, aggregating the counts. Backs the
// operator-invoked dxf-sync maintenance run.
func (p *Propagator) SyncAll(ctx context.Context, guard string) (Result, error) {
	dealers, err := p.repo.ListByRole(ctx, p.dealerRole, guard)
	if err != nil {
		return Result{}, err
	}
	var total Result
	for _, dealer := range dealers {
		res, err := p.SyncChildren(ctx, dealer.ID)
		if err != nil {
			// A missing dealer mid-run is logged, not fatal to the sweep.
			if p.logger != nil {
				p.logger.Error("propagate dealer tree", slog.Int64("dealer_id", dealer.ID), slog.Any("error", err))
			}
			continue
		}
		total.Total += res.Total
		total.Updated += res.Updated
		total.Failed += res.Failed
	}
	return total, nil
}

// nearestDealer walks upward from startID looking for a dealer-role ancestor.
func (p *Propagator) nearestDealer(ctx context.Context, startID int64, guard string) (identity.User, bool, error) {
	const maxDepth = 64
	current := startID
	for i := 0; i < maxDepth; i++ {
		ancestor, err := p.repo.Get(ctx, current)
		if err != nil {
			return identity.User{}, false, err
		}
		isDealer, err := p.repo.HasRole(ctx, ancestor.ID, p.dealerRole, guard)
		if err != nil {
			return identity.User{}, false, err
		}
		if isDealer {
			return ancestor, true, nil
		}
		if ancestor.ParentID == nil {
			return identity.User{}, false, nil
		}
		current = *ancestor.ParentID
	}
	return identity.User{}, false, fmt.Errorf("propagate: ancestor chain from %d exceeds depth limit", startID)
}
