package engagements

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gofrs/uuid/v5"

	"osprey-ptx/config"
	"osprey-ptx/core/store"
)

type fixture struct {
	db          *sql.DB
	engagements store.EngagementsStore
	techniques  store.TechniquesStore
	tracker     *Tracker
	machine     *StateMachine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "osprey_test.db"),
	}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	es := store.NewEngagementsStore(db)
	ts := store.NewTechniquesStore(db)
	audits := store.NewAuditStore(db)
	tracker := NewTracker(es, audits, nil)
	required := []store.EngagementRole{store.RoleCoordinator, store.RoleSponsor}
	machine := NewStateMachine(es, ts, tracker, required, audits, nil)
	return &fixture{db: db, engagements: es, techniques: ts, tracker: tracker, machine: machine}
}

func (f *fixture) newEngagement(t *testing.T) *store.Engagement {
	t.Helper()
	eng := &store.Engagement{
		PublicID:    uuid.Must(uuid.NewV4()).String(),
		Name:        "exercise",
		Methodology: store.MethodologyAtomic,
	}
	if _, err := f.engagements.CreateEngagement(context.Background(), eng); err != nil {
		t.Fatalf("create engagement: %v", err)
	}
	return eng
}

func (f *fixture) addDoneTechnique(t *testing.T, engagementID int64) {
	t.Helper()
	tech := &store.Technique{
		PublicID:     uuid.Must(uuid.NewV4()).String(),
		EngagementID: engagementID,
		TechniqueRef: "T1059.001",
		Status:       store.TechniqueDone,
	}
	if _, err := f.techniques.CreateTechnique(context.Background(), tech); err != nil {
		t.Fatalf("create technique: %v", err)
	}
}

func (f *fixture) approveAll(t *testing.T, engagementID int64) {
	t.Helper()
	for _, role := range []string{"coordinator", "sponsor"} {
		if _, err := f.tracker.RecordApproval(context.Background(), engagementID, role, "tester", ""); err != nil {
			t.Fatalf("approve %s: %v", role, err)
		}
	}
}

func transitionReason(t *testing.T, err error) TransitionReason {
	t.Helper()
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want *InvalidTransitionError", err)
	}
	return invalid.Reason
}

func TestTransitionFullChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eng := f.newEngagement(t)

	if _, err := f.machine.GeneratePlan(ctx, eng.ID, "tester"); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	f.approveAll(t, eng.ID)
	f.addDoneTechnique(t, eng.ID)

	for _, target := range []store.EngagementStatus{
		store.StatusPlanning, store.StatusReady, store.StatusActive,
		store.StatusReporting, store.StatusCompleted,
	} {
		got, err := f.machine.Transition(ctx, eng.ID, target, "tester")
		if err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
		if got.Status != target {
			t.Fatalf("status = %s, want %s", got.Status, target)
		}
	}

	final, _ := f.engagements.GetEngagement(ctx, eng.ID)
	if final.ActivatedAt == nil || final.CompletedAt == nil {
		t.Errorf("timestamps missing: activated=%v completed=%v", final.ActivatedAt, final.CompletedAt)
	}
}

func TestTransitionSkipForward(t *testing.T) {
	f := newFixture(t)
	eng := f.newEngagement(t)
	_, err := f.machine.Transition(context.Background(), eng.ID, store.StatusReady, "tester")
	if reason := transitionReason(t, err); reason != ReasonSkipForward {
		t.Fatalf("reason = %s, want skip_forward", reason)
	}
	var invalid *InvalidTransitionError
	errors.As(err, &invalid)
	if invalid.Message != "cannot skip states" {
		t.Errorf("message = %q", invalid.Message)
	}
}

func TestTransitionBackward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eng := f.newEngagement(t)
	if _, err := f.machine.GeneratePlan(ctx, eng.ID, "tester"); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	if _, err := f.machine.Transition(ctx, eng.ID, store.StatusPlanning, "tester"); err != nil {
		t.Fatalf("to planning: %v", err)
	}
	_, err := f.machine.Transition(ctx, eng.ID, store.StatusDraft, "tester")
	if reason := transitionReason(t, err); reason != ReasonBackward {
		t.Fatalf("reason = %s, want backward", reason)
	}
	var invalid *InvalidTransitionError
	errors.As(err, &invalid)
	if invalid.Message != "cannot move backward" {
		t.Errorf("message = %q", invalid.Message)
	}
}

func TestTransitionRequiresPlan(t *testing.T) {
	f := newFixture(t)
	eng := f.newEngagement(t)
	_, err := f.machine.Transition(context.Background(), eng.ID, store.StatusPlanning, "tester")
	if reason := transitionReason(t, err); reason != ReasonPlanNotGenerated {
		t.Fatalf("reason = %s, want plan_not_generated", reason)
	}
}

func TestTransitionRequiresApprovals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eng := f.newEngagement(t)
	if _, err := f.machine.GeneratePlan(ctx, eng.ID, "tester"); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	if _, err := f.machine.Transition(ctx, eng.ID, store.StatusPlanning, "tester"); err != nil {
		t.Fatalf("to planning: %v", err)
	}

	_, err := f.machine.Transition(ctx, eng.ID, store.StatusReady, "tester")
	if reason := transitionReason(t, err); reason != ReasonMissingApprovals {
		t.Fatalf("reason = %s, want missing_approvals", reason)
	}

	// One of two approvals is not enough.
	if _, err := f.tracker.RecordApproval(ctx, eng.ID, "coordinator", "tester", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err = f.machine.Transition(ctx, eng.ID, store.StatusReady, "tester")
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) || invalid.Reason != ReasonMissingApprovals {
		t.Fatalf("err = %v, want missing_approvals", err)
	}
	if invalid.Message != "missing approvals: sponsor" {
		t.Errorf("message = %q", invalid.Message)
	}

	if _, err := f.tracker.RecordApproval(ctx, eng.ID, "sponsor", "tester", ""); err != nil {
		t.Fatalf("approve sponsor: %v", err)
	}
	if _, err := f.machine.Transition(ctx, eng.ID, store.StatusReady, "tester"); err != nil {
		t.Fatalf("to ready after approvals: %v", err)
	}
}

func TestTransitionRequiresExecutedTechniques(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eng := f.newEngagement(t)
	if _, err := f.machine.GeneratePlan(ctx, eng.ID, "tester"); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	f.approveAll(t, eng.ID)
	for _, target := range []store.EngagementStatus{store.StatusPlanning, store.StatusReady, store.StatusActive} {
		if _, err := f.machine.Transition(ctx, eng.ID, target, "tester"); err != nil {
			t.Fatalf("to %s: %v", target, err)
		}
	}

	_, err := f.machine.Transition(ctx, eng.ID, store.StatusReporting, "tester")
	if reason := transitionReason(t, err); reason != ReasonNoExecutedTechniques {
		t.Fatalf("reason = %s, want no_executed_techniques", reason)
	}

	f.addDoneTechnique(t, eng.ID)
	if _, err := f.machine.Transition(ctx, eng.ID, store.StatusReporting, "tester"); err != nil {
		t.Fatalf("to reporting after technique done: %v", err)
	}
}

func TestArchiveFromAnywhereIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eng := f.newEngagement(t)

	got, err := f.machine.Transition(ctx, eng.ID, store.StatusArchived, "tester")
	if err != nil || got.Status != store.StatusArchived {
		t.Fatalf("archive: status=%v err=%v", got, err)
	}
	firstStamp := got.ArchivedAt

	// Archiving again is a no-op, not an error.
	again, err := f.machine.Transition(ctx, eng.ID, store.StatusArchived, "tester")
	if err != nil || again.Status != store.StatusArchived {
		t.Fatalf("second archive: %v err=%v", again, err)
	}
	if firstStamp == nil || again.ArchivedAt == nil || !again.ArchivedAt.Equal(*firstStamp) {
		t.Errorf("archived_at changed: %v -> %v", firstStamp, again.ArchivedAt)
	}

	// Archived is terminal: no way back into the chain.
	_, err = f.machine.Transition(ctx, eng.ID, store.StatusDraft, "tester")
	if reason := transitionReason(t, err); reason != ReasonBackward {
		t.Fatalf("reason = %s, want backward", reason)
	}
}

func TestTransitionNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.machine.Transition(context.Background(), 9999, store.StatusPlanning, "tester")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTransitionSameState(t *testing.T) {
	f := newFixture(t)
	eng := f.newEngagement(t)
	_, err := f.machine.Transition(context.Background(), eng.ID, store.StatusDraft, "tester")
	if reason := transitionReason(t, err); reason != ReasonNotAdjacent {
		t.Fatalf("reason = %s, want not_adjacent", reason)
	}
}

func TestRequiredApproverRolesParsing(t *testing.T) {
	roles := RequiredApproverRoles([]string{"coordinator", "bogus", "blue_lead"}, nil)
	if len(roles) != 2 || roles[0] != store.RoleCoordinator || roles[1] != store.RoleBlueLead {
		t.Fatalf("roles = %v", roles)
	}
	// Empty input falls back to the default pair.
	fallback := RequiredApproverRoles(nil, nil)
	if len(fallback) != 2 || fallback[0] != store.RoleCoordinator || fallback[1] != store.RoleSponsor {
		t.Fatalf("fallback = %v", fallback)
	}
}
