package store

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
)

func TestActionItemRetestCandidates(t *testing.T) {
	db := newTestDB(t)
	es := NewEngagementsStore(db)
	items := NewActionItemsStore(db)
	ctx := context.Background()
	eng := newTestEngagement(t, es)

	now := time.Now().UTC()
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	due := &ActionItem{
		PublicID:     uuid.Must(uuid.NewV4()).String(),
		EngagementID: eng.ID,
		Title:        "harden powershell logging",
		Retest:       true,
		DueDate:      &past,
	}
	notYetDue := &ActionItem{
		PublicID:     uuid.Must(uuid.NewV4()).String(),
		EngagementID: eng.ID,
		Title:        "tune edr rule",
		Retest:       true,
		DueDate:      &future,
	}
	noRetest := &ActionItem{
		PublicID:     uuid.Must(uuid.NewV4()).String(),
		EngagementID: eng.ID,
		Title:        "document finding",
		DueDate:      &past,
	}
	for _, item := range []*ActionItem{due, notYetDue, noRetest} {
		if _, err := items.CreateActionItem(ctx, item); err != nil {
			t.Fatalf("create %q: %v", item.Title, err)
		}
	}

	candidates, err := items.ListRetestCandidates(ctx, now)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].PublicID != due.PublicID {
		t.Fatalf("candidates = %+v, want only %q", candidates, due.Title)
	}

	if err := items.MarkRetestNotified(ctx, due.ID, now); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	candidates, err = items.ListRetestCandidates(ctx, now)
	if err != nil || len(candidates) != 0 {
		t.Fatalf("candidates after notify = %d, err %v; want 0", len(candidates), err)
	}
}

func TestActionItemTechniqueJoin(t *testing.T) {
	db := newTestDB(t)
	es := NewEngagementsStore(db)
	ts := NewTechniquesStore(db)
	items := NewActionItemsStore(db)
	ctx := context.Background()
	eng := newTestEngagement(t, es)
	tech := newTestTechnique(t, ts, eng.ID, "T1003.001")

	item := &ActionItem{
		PublicID:     uuid.Must(uuid.NewV4()).String(),
		EngagementID: eng.ID,
		TechniqueID:  &tech.ID,
		Title:        "block lsass access",
		Severity:     ActionSeverityHigh,
	}
	if _, err := items.CreateActionItem(ctx, item); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := items.GetActionItemByPublicID(ctx, item.PublicID)
	if err != nil || got == nil {
		t.Fatalf("get: %v, err %v", got, err)
	}
	if got.TechniquePublic != tech.PublicID {
		t.Errorf("technique public id = %q, want %q", got.TechniquePublic, tech.PublicID)
	}
	if got.Severity != ActionSeverityHigh || got.Status != ActionOpen {
		t.Errorf("got %+v", got)
	}
}
