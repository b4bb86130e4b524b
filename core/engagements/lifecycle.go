package engagements

import (
	"context"
	"fmt"
	"strings"
	"time"

	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

const (
	msgCannotSkip     = "cannot skip states"
	msgCannotBackward = "cannot move backward"
)

// StateMachine enforces the engagement lifecycle:
// draft -> planning -> ready -> active -> reporting -> completed, with
// archived reachable from any state. It reads approvals and technique
// execution counts to evaluate preconditions and writes only the
// engagement's own status and timestamp.
type StateMachine struct {
	engagements store.EngagementsStore
	techniques  store.TechniquesStore
	tracker     *Tracker
	required    []store.EngagementRole
	audits      store.AuditStore
	logger      *utils.Logger
}

func NewStateMachine(es store.EngagementsStore, ts store.TechniquesStore, tracker *Tracker, required []store.EngagementRole, audits store.AuditStore, logger *utils.Logger) *StateMachine {
	return &StateMachine{
		engagements: es,
		techniques:  ts,
		tracker:     tracker,
		required:    required,
		audits:      audits,
		logger:      logger,
	}
}

// RequiredApproverRoles parses the configured role names, dropping
// anything outside the closed set.
func RequiredApproverRoles(names []string, logger *utils.Logger) []store.EngagementRole {
	var out []store.EngagementRole
	for _, name := range names {
		role, err := store.ParseEngagementRole(name)
		if err != nil {
			if logger != nil {
				logger.Errorf("ignoring unknown required approver role %q", name)
			}
			continue
		}
		out = append(out, role)
	}
	if len(out) == 0 {
		out = []store.EngagementRole{store.RoleCoordinator, store.RoleSponsor}
	}
	return out
}

// Transition validates and applies a single status change, returning
// the reloaded engagement. Raced transitions lose on the guarded status
// update and surface as InvalidTransitionError.
func (m *StateMachine) Transition(ctx context.Context, engagementID int64, target store.EngagementStatus, actor string) (*store.Engagement, error) {
	eng, err := m.engagements.GetEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, ErrNotFound
	}
	from := eng.Status

	if target == store.StatusArchived {
		return m.archive(ctx, eng, actor)
	}
	if from == store.StatusArchived {
		return nil, invalidTransition(from, target, ReasonBackward, msgCannotBackward)
	}

	fromIdx := from.ChainIndex()
	targetIdx := target.ChainIndex()
	switch {
	case targetIdx < fromIdx:
		return nil, invalidTransition(from, target, ReasonBackward, msgCannotBackward)
	case targetIdx == fromIdx:
		return nil, invalidTransition(from, target, ReasonNotAdjacent, fmt.Sprintf("engagement is already %s", from))
	case targetIdx > fromIdx+1:
		return nil, invalidTransition(from, target, ReasonSkipForward, msgCannotSkip)
	}

	stamp := store.StampNone
	switch target {
	case store.StatusPlanning:
		if eng.PlanGeneratedAt == nil {
			return nil, invalidTransition(from, target, ReasonPlanNotGenerated, "plan has not been generated")
		}
	case store.StatusReady:
		missing, err := m.tracker.MissingApprovals(ctx, engagementID, m.required)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, invalidTransition(from, target, ReasonMissingApprovals,
				fmt.Sprintf("missing approvals: %s", joinRoles(missing)))
		}
	case store.StatusActive:
		// Explicit operator action only.
		stamp = store.StampActivated
	case store.StatusReporting:
		n, err := m.techniques.CountTerminalTechniques(ctx, engagementID)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, invalidTransition(from, target, ReasonNoExecutedTechniques, "no executed techniques")
		}
	case store.StatusCompleted:
		// Report documents are generated downstream of completion.
		stamp = store.StampCompleted
	}

	return m.apply(ctx, eng, from, target, stamp, actor)
}

func (m *StateMachine) archive(ctx context.Context, eng *store.Engagement, actor string) (*store.Engagement, error) {
	if eng.Status == store.StatusArchived {
		return eng, nil
	}
	return m.apply(ctx, eng, eng.Status, store.StatusArchived, store.StampArchived, actor)
}

func (m *StateMachine) apply(ctx context.Context, eng *store.Engagement, from, to store.EngagementStatus, stamp store.StatusStamp, actor string) (*store.Engagement, error) {
	ok, err := m.engagements.UpdateStatus(ctx, eng.ID, from, to, stamp, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race: another transition already moved the row.
		return nil, invalidTransition(from, to, ReasonConflict, "engagement status changed concurrently")
	}
	if m.audits != nil {
		_ = m.audits.Record(ctx, actor, "engagement.transition",
			fmt.Sprintf("engagement=%s %s -> %s", eng.PublicID, from, to))
	}
	if m.logger != nil {
		m.logger.Printf("TRANSITION engagement=%s %s -> %s by=%s", eng.PublicID, from, to, actor)
	}
	return m.engagements.GetEngagement(ctx, eng.ID)
}

// GeneratePlan records that a plan artifact exists for the engagement.
// The timestamp is set once; regeneration keeps the original.
func (m *StateMachine) GeneratePlan(ctx context.Context, engagementID int64, actor string) (*store.Engagement, error) {
	eng, err := m.engagements.GetEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, ErrNotFound
	}
	if err := m.engagements.MarkPlanGenerated(ctx, engagementID, time.Now().UTC()); err != nil {
		return nil, err
	}
	if m.audits != nil {
		_ = m.audits.Record(ctx, actor, "engagement.plan_generated", fmt.Sprintf("engagement=%s", eng.PublicID))
	}
	return m.engagements.GetEngagement(ctx, engagementID)
}

func joinRoles(roles []store.EngagementRole) string {
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ", ")
}
