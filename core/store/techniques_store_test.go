package store

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
)

func newTestTechnique(t *testing.T, ts TechniquesStore, engagementID int64, ref string) *Technique {
	t.Helper()
	tech := &Technique{
		PublicID:     uuid.Must(uuid.NewV4()).String(),
		EngagementID: engagementID,
		TechniqueRef: ref,
		Tactic:       "execution",
	}
	if _, err := ts.CreateTechnique(context.Background(), tech); err != nil {
		t.Fatalf("create technique: %v", err)
	}
	return tech
}

func TestTechniqueAutoPosition(t *testing.T) {
	db := newTestDB(t)
	es := NewEngagementsStore(db)
	ts := NewTechniquesStore(db)
	eng := newTestEngagement(t, es)

	first := newTestTechnique(t, ts, eng.ID, "T1059.001")
	second := newTestTechnique(t, ts, eng.ID, "T1547.001")
	if first.Position != 1 || second.Position != 2 {
		t.Fatalf("positions = %d, %d; want 1, 2", first.Position, second.Position)
	}
}

func TestCountTerminalTechniques(t *testing.T) {
	db := newTestDB(t)
	es := NewEngagementsStore(db)
	ts := NewTechniquesStore(db)
	ctx := context.Background()
	eng := newTestEngagement(t, es)

	tech := newTestTechnique(t, ts, eng.ID, "T1059.001")
	newTestTechnique(t, ts, eng.ID, "T1547.001")

	n, err := ts.CountTerminalTechniques(ctx, eng.ID)
	if err != nil || n != 0 {
		t.Fatalf("terminal count = %d, err %v; want 0", n, err)
	}
	tech.Status = TechniqueDone
	if err := ts.UpdateTechnique(ctx, tech); err != nil {
		t.Fatalf("update: %v", err)
	}
	n, err = ts.CountTerminalTechniques(ctx, eng.ID)
	if err != nil || n != 1 {
		t.Fatalf("terminal count = %d, err %v; want 1", n, err)
	}
}

func TestOutcomeUpsertAndRows(t *testing.T) {
	db := newTestDB(t)
	es := NewEngagementsStore(db)
	ts := NewTechniquesStore(db)
	ctx := context.Background()
	eng := newTestEngagement(t, es)
	tech := newTestTechnique(t, ts, eng.ID, "T1059.001")

	o := &TechniqueOutcome{TechniqueID: tech.ID, Tool: "edr", Outcome: OutcomeLoggedLocal}
	if err := ts.UpsertOutcome(ctx, o); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Same tool again replaces the outcome.
	o.Outcome = OutcomeAlertedHigh
	if err := ts.UpsertOutcome(ctx, o); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if err := ts.UpsertOutcome(ctx, &TechniqueOutcome{TechniqueID: tech.ID, Tool: "siem", Outcome: OutcomeLoggedCentral}); err != nil {
		t.Fatalf("siem upsert: %v", err)
	}

	outcomes, err := ts.ListOutcomes(ctx, tech.ID)
	if err != nil || len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, err %v; want 2", len(outcomes), err)
	}

	rows, err := ts.ListOutcomeRows(ctx, eng.ID)
	if err != nil || len(rows) != 2 {
		t.Fatalf("rows = %d, err %v; want 2", len(rows), err)
	}
	byTool := map[string]DetectionOutcome{}
	for _, r := range rows {
		if r.TechniqueID != tech.ID || r.Tactic != "execution" {
			t.Errorf("row = %+v", r)
		}
		byTool[r.Tool] = r.Outcome
	}
	if byTool["edr"] != OutcomeAlertedHigh || byTool["siem"] != OutcomeLoggedCentral {
		t.Errorf("outcomes by tool = %v", byTool)
	}
}
