package reports

import (
	"context"
	"fmt"
	"time"

	"osprey-ptx/core/engagements"
	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

// Snapshot is the full engagement view handed to external report
// renderers. Document generation (docx, pdf) happens outside the
// platform; the snapshot is the contract.
type Snapshot struct {
	GeneratedAt time.Time                `json:"generated_at"`
	Engagement  *store.Engagement        `json:"engagement"`
	Roles       []store.RoleAssignment   `json:"roles"`
	Approvals   []store.PlanApproval     `json:"approvals"`
	Techniques  []TechniqueView          `json:"techniques"`
	Metrics     *store.EngagementMetrics `json:"metrics,omitempty"`
	ActionItems []store.ActionItem       `json:"action_items"`
}

type TechniqueView struct {
	store.Technique
	Outcomes []store.TechniqueOutcome `json:"outcomes"`
}

type Service struct {
	engagements store.EngagementsStore
	techniques  store.TechniquesStore
	metrics     store.MetricsStore
	actionItems store.ActionItemsStore
	audits      store.AuditStore
	logger      *utils.Logger
}

func NewService(es store.EngagementsStore, ts store.TechniquesStore, ms store.MetricsStore, as store.ActionItemsStore, audits store.AuditStore, logger *utils.Logger) *Service {
	return &Service{engagements: es, techniques: ts, metrics: ms, actionItems: as, audits: audits, logger: logger}
}

func (s *Service) BuildSnapshot(ctx context.Context, engagementID int64, actor string) (*Snapshot, error) {
	eng, err := s.engagements.GetEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, engagements.ErrNotFound
	}
	roles, err := s.engagements.ListRoleAssignments(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.engagements.ListApprovals(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	techs, err := s.techniques.ListTechniques(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	views := make([]TechniqueView, 0, len(techs))
	for _, t := range techs {
		outcomes, err := s.techniques.ListOutcomes(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, TechniqueView{Technique: t, Outcomes: outcomes})
	}
	metrics, err := s.metrics.GetMetrics(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	items, err := s.actionItems.ListActionItems(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		GeneratedAt: utils.NowUTC(),
		Engagement:  eng,
		Roles:       roles,
		Approvals:   approvals,
		Techniques:  views,
		Metrics:     metrics,
		ActionItems: items,
	}
	if s.audits != nil {
		_ = s.audits.Record(ctx, actor, "report.snapshot",
			fmt.Sprintf("engagement=%s techniques=%d action_items=%d", eng.PublicID, len(views), len(items)))
	}
	return snap, nil
}
