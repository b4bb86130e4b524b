package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// RateBreakdown is one per-tactic or per-tool score record.
type RateBreakdown struct {
	ApplicableCount       int     `json:"applicable_count"`
	PreventionRate        float64 `json:"prevention_rate"`
	DetectionRate         float64 `json:"detection_rate"`
	VisibilityRate        float64 `json:"visibility_rate"`
	ThreatResilienceScore float64 `json:"threat_resilience_score"`
}

// EngagementMetrics is the derived scorecard cache: one row per
// engagement, fully replaced on every recompute.
type EngagementMetrics struct {
	EngagementID          int64                    `json:"-"`
	ApplicableCount       int                      `json:"applicable_count"`
	BlockedCount          int                      `json:"blocked_count"`
	AlertedCount          int                      `json:"alerted_count"`
	LoggedCount           int                      `json:"logged_count"`
	NotDetectedCount      int                      `json:"not_detected_count"`
	ThreatResilienceScore float64                  `json:"threat_resilience_score"`
	PreventionRate        float64                  `json:"prevention_rate"`
	DetectionRate         float64                  `json:"detection_rate"`
	VisibilityRate        float64                  `json:"visibility_rate"`
	AvgDetectSeconds      *float64                 `json:"avg_detect_seconds,omitempty"`
	MedianDetectSeconds   *float64                 `json:"median_detect_seconds,omitempty"`
	MinDetectSeconds      *int64                   `json:"min_detect_seconds,omitempty"`
	MaxDetectSeconds      *int64                   `json:"max_detect_seconds,omitempty"`
	AvgInvestigateSeconds *float64                 `json:"avg_investigate_seconds,omitempty"`
	TacticBreakdown       map[string]RateBreakdown `json:"tactic_breakdown"`
	ToolBreakdown         map[string]RateBreakdown `json:"tool_breakdown"`
	ComputedAt            time.Time                `json:"computed_at"`
}

type MetricsStore interface {
	UpsertMetrics(ctx context.Context, m *EngagementMetrics) error
	GetMetrics(ctx context.Context, engagementID int64) (*EngagementMetrics, error)
}

type metricsStore struct {
	db *sql.DB
}

func NewMetricsStore(db *sql.DB) MetricsStore {
	return &metricsStore{db: db}
}

func (s *metricsStore) UpsertMetrics(ctx context.Context, m *EngagementMetrics) error {
	tactics := breakdownToJSON(m.TacticBreakdown)
	tools := breakdownToJSON(m.ToolBreakdown)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engagement_metrics(engagement_id, applicable_count, blocked_count, alerted_count, logged_count, not_detected_count,
			threat_resilience_score, prevention_rate, detection_rate, visibility_rate,
			avg_detect_seconds, median_detect_seconds, min_detect_seconds, max_detect_seconds, avg_investigate_seconds,
			tactic_breakdown_json, tool_breakdown_json, computed_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (engagement_id)
		DO UPDATE SET applicable_count=excluded.applicable_count, blocked_count=excluded.blocked_count,
			alerted_count=excluded.alerted_count, logged_count=excluded.logged_count, not_detected_count=excluded.not_detected_count,
			threat_resilience_score=excluded.threat_resilience_score, prevention_rate=excluded.prevention_rate,
			detection_rate=excluded.detection_rate, visibility_rate=excluded.visibility_rate,
			avg_detect_seconds=excluded.avg_detect_seconds, median_detect_seconds=excluded.median_detect_seconds,
			min_detect_seconds=excluded.min_detect_seconds, max_detect_seconds=excluded.max_detect_seconds,
			avg_investigate_seconds=excluded.avg_investigate_seconds,
			tactic_breakdown_json=excluded.tactic_breakdown_json, tool_breakdown_json=excluded.tool_breakdown_json,
			computed_at=excluded.computed_at`,
		m.EngagementID, m.ApplicableCount, m.BlockedCount, m.AlertedCount, m.LoggedCount, m.NotDetectedCount,
		m.ThreatResilienceScore, m.PreventionRate, m.DetectionRate, m.VisibilityRate,
		m.AvgDetectSeconds, m.MedianDetectSeconds, m.MinDetectSeconds, m.MaxDetectSeconds, m.AvgInvestigateSeconds,
		tactics, tools, m.ComputedAt.UTC())
	return err
}

func (s *metricsStore) GetMetrics(ctx context.Context, engagementID int64) (*EngagementMetrics, error) {
	var m EngagementMetrics
	var tactics, tools string
	err := s.db.QueryRowContext(ctx, `
		SELECT engagement_id, applicable_count, blocked_count, alerted_count, logged_count, not_detected_count,
			threat_resilience_score, prevention_rate, detection_rate, visibility_rate,
			avg_detect_seconds, median_detect_seconds, min_detect_seconds, max_detect_seconds, avg_investigate_seconds,
			tactic_breakdown_json, tool_breakdown_json, computed_at
		FROM engagement_metrics WHERE engagement_id=?`, engagementID).Scan(
		&m.EngagementID, &m.ApplicableCount, &m.BlockedCount, &m.AlertedCount, &m.LoggedCount, &m.NotDetectedCount,
		&m.ThreatResilienceScore, &m.PreventionRate, &m.DetectionRate, &m.VisibilityRate,
		&m.AvgDetectSeconds, &m.MedianDetectSeconds, &m.MinDetectSeconds, &m.MaxDetectSeconds, &m.AvgInvestigateSeconds,
		&tactics, &tools, &m.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.TacticBreakdown = breakdownFromJSON(tactics)
	m.ToolBreakdown = breakdownFromJSON(tools)
	return &m, nil
}

func breakdownToJSON(m map[string]RateBreakdown) string {
	if len(m) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func breakdownFromJSON(raw string) map[string]RateBreakdown {
	out := map[string]RateBreakdown{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
