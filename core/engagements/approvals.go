package engagements

import (
	"context"
	"fmt"
	"time"

	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

// Tracker records per-role plan sign-off and answers whether a required
// role set has fully approved. It never mutates engagement status; the
// state machine reads it when evaluating planning -> ready.
type Tracker struct {
	store  store.EngagementsStore
	audits store.AuditStore
	logger *utils.Logger
}

func NewTracker(es store.EngagementsStore, audits store.AuditStore, logger *utils.Logger) *Tracker {
	return &Tracker{store: es, audits: audits, logger: logger}
}

// RecordApproval upserts the (engagement, role) approval row and stamps
// approved_at. A repeated approval for the same role overwrites the
// previous timestamp and comments instead of creating a duplicate.
func (t *Tracker) RecordApproval(ctx context.Context, engagementID int64, rawRole, approverIdentity, comments string) (*store.PlanApproval, error) {
	role, err := store.ParseEngagementRole(rawRole)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, rawRole)
	}
	eng, err := t.store.GetEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	approval := &store.PlanApproval{
		EngagementID:     engagementID,
		Role:             role,
		ApproverIdentity: approverIdentity,
		ApprovedAt:       &now,
		Comments:         comments,
	}
	if err := t.store.UpsertApproval(ctx, approval); err != nil {
		return nil, err
	}
	if t.audits != nil {
		_ = t.audits.Record(ctx, approverIdentity, "engagement.approve",
			fmt.Sprintf("engagement=%s role=%s", eng.PublicID, role))
	}
	if t.logger != nil {
		t.logger.Printf("APPROVAL engagement=%s role=%s by=%s", eng.PublicID, role, approverIdentity)
	}
	return approval, nil
}

func (t *Tracker) ListApprovals(ctx context.Context, engagementID int64) ([]store.PlanApproval, error) {
	eng, err := t.store.GetEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, ErrNotFound
	}
	return t.store.ListApprovals(ctx, engagementID)
}

// RequiredRolesApproved reports whether every role in required has a
// non-null approved_at. The required set is supplied by the caller.
func (t *Tracker) RequiredRolesApproved(ctx context.Context, engagementID int64, required []store.EngagementRole) (bool, error) {
	missing, err := t.MissingApprovals(ctx, engagementID, required)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// MissingApprovals returns the subset of required roles that have not
// approved yet, in the order they were required.
func (t *Tracker) MissingApprovals(ctx context.Context, engagementID int64, required []store.EngagementRole) ([]store.EngagementRole, error) {
	approved, err := t.store.ApprovedRoles(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	have := make(map[store.EngagementRole]bool, len(approved))
	for _, r := range approved {
		have[r] = true
	}
	var missing []store.EngagementRole
	for _, r := range required {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	return missing, nil
}
