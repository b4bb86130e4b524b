package store

import (
	"context"
	"testing"
	"time"
)

func TestMetricsUpsertRoundTrip(t *testing.T) {
	db := newTestDB(t)
	es := NewEngagementsStore(db)
	ms := NewMetricsStore(db)
	ctx := context.Background()
	eng := newTestEngagement(t, es)

	if m, err := ms.GetMetrics(ctx, eng.ID); err != nil || m != nil {
		t.Fatalf("metrics before compute = %v, err %v; want nil, nil", m, err)
	}

	avg := 42.5
	m := &EngagementMetrics{
		EngagementID:          eng.ID,
		ApplicableCount:       3,
		BlockedCount:          1,
		AlertedCount:          1,
		NotDetectedCount:      1,
		ThreatResilienceScore: 63.33,
		PreventionRate:        33.33,
		DetectionRate:         33.33,
		VisibilityRate:        66.67,
		AvgDetectSeconds:      &avg,
		TacticBreakdown: map[string]RateBreakdown{
			"execution": {ApplicableCount: 2, PreventionRate: 50},
		},
		ToolBreakdown: map[string]RateBreakdown{
			"edr": {ApplicableCount: 3, DetectionRate: 33.33},
		},
		ComputedAt: time.Now().UTC(),
	}
	if err := ms.UpsertMetrics(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Recompute replaces the row entirely.
	m.ApplicableCount = 4
	m.VisibilityRate = 75
	if err := ms.UpsertMetrics(ctx, m); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := ms.GetMetrics(ctx, eng.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v, err %v", got, err)
	}
	if got.ApplicableCount != 4 || got.VisibilityRate != 75 {
		t.Errorf("got %+v", got)
	}
	if got.AvgDetectSeconds == nil || *got.AvgDetectSeconds != 42.5 {
		t.Errorf("avg detect = %v", got.AvgDetectSeconds)
	}
	if got.TacticBreakdown["execution"].ApplicableCount != 2 {
		t.Errorf("tactic breakdown = %v", got.TacticBreakdown)
	}
	if got.ToolBreakdown["edr"].DetectionRate != 33.33 {
		t.Errorf("tool breakdown = %v", got.ToolBreakdown)
	}
}
