package metrics

import (
	"context"
	"fmt"
	"time"

	"osprey-ptx/core/engagements"
	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

// Service recomputes and serves the per-engagement scorecard. The
// metrics row is a cache over technique outcomes: recompute fully
// replaces it and is only ever triggered explicitly.
type Service struct {
	engagements store.EngagementsStore
	techniques  store.TechniquesStore
	metrics     store.MetricsStore
	orgs        store.OrgsStore
	audits      store.AuditStore
	logger      *utils.Logger
}

func NewService(es store.EngagementsStore, ts store.TechniquesStore, ms store.MetricsStore, os store.OrgsStore, audits store.AuditStore, logger *utils.Logger) *Service {
	return &Service{engagements: es, techniques: ts, metrics: ms, orgs: os, audits: audits, logger: logger}
}

func (s *Service) Recompute(ctx context.Context, engagementID int64, actor string) (*store.EngagementMetrics, error) {
	eng, err := s.engagements.GetEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, engagements.ErrNotFound
	}
	rows, err := s.techniques.ListOutcomeRows(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	weights, err := s.effectiveWeights(ctx, eng)
	if err != nil {
		return nil, err
	}
	m := Compute(rows, weights)
	m.EngagementID = engagementID
	m.ComputedAt = time.Now().UTC()
	if err := s.metrics.UpsertMetrics(ctx, m); err != nil {
		return nil, err
	}
	if s.audits != nil {
		_ = s.audits.Record(ctx, actor, "metrics.recompute",
			fmt.Sprintf("engagement=%s applicable=%d resilience=%.2f", eng.PublicID, m.ApplicableCount, m.ThreatResilienceScore))
	}
	if s.logger != nil {
		s.logger.Printf("METRICS engagement=%s applicable=%d prevention=%.2f detection=%.2f visibility=%.2f",
			eng.PublicID, m.ApplicableCount, m.PreventionRate, m.DetectionRate, m.VisibilityRate)
	}
	return m, nil
}

// Scorecard returns the last computed metrics row, or nil when no
// recompute has happened yet.
func (s *Service) Scorecard(ctx context.Context, engagementID int64) (*store.EngagementMetrics, error) {
	eng, err := s.engagements.GetEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, engagements.ErrNotFound
	}
	return s.metrics.GetMetrics(ctx, engagementID)
}

func (s *Service) effectiveWeights(ctx context.Context, eng *store.Engagement) (WeightTable, error) {
	if eng.OrganizationID == nil || s.orgs == nil {
		return NewWeightTable(nil), nil
	}
	overrides, err := s.orgs.OutcomeWeightOverrides(ctx, *eng.OrganizationID)
	if err != nil {
		return WeightTable{}, err
	}
	return NewWeightTable(overrides), nil
}
