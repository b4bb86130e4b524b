package actionitems

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"osprey-ptx/config"
	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

// RetestScheduler periodically sweeps remediation items flagged for
// retest whose due date has passed and marks them as due for review.
// Each item is flagged at most once.
type RetestScheduler struct {
	items  store.ActionItemsStore
	audits store.AuditStore
	cfg    *config.SchedulerConfig
	logger *utils.Logger
	cron   *cron.Cron
}

func NewRetestScheduler(items store.ActionItemsStore, audits store.AuditStore, cfg *config.SchedulerConfig, logger *utils.Logger) *RetestScheduler {
	return &RetestScheduler{items: items, audits: audits, cfg: cfg, logger: logger}
}

func (s *RetestScheduler) StartWithContext(ctx context.Context) error {
	if s.cfg == nil || !s.cfg.Enabled {
		if s.logger != nil {
			s.logger.Printf("RETEST scheduler disabled")
		}
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(s.cfg.ReviewCron, func() {
		if err := s.RunOnce(ctx); err != nil && s.logger != nil {
			s.logger.Errorf("RETEST sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("retest schedule %q: %w", s.cfg.ReviewCron, err)
	}
	s.cron = c
	c.Start()
	if s.logger != nil {
		s.logger.Printf("RETEST scheduler started, cron=%q", s.cfg.ReviewCron)
	}
	return nil
}

func (s *RetestScheduler) StopWithContext(ctx context.Context) {
	if s.cron == nil {
		return
	}
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	s.cron = nil
}

// RunOnce performs one sweep. Exposed for tests and for the manual
// trigger endpoint.
func (s *RetestScheduler) RunOnce(ctx context.Context) error {
	now := utils.NowUTC()
	items, err := s.items.ListRetestCandidates(ctx, now)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.items.MarkRetestNotified(ctx, item.ID, now); err != nil {
			return err
		}
		if s.audits != nil {
			_ = s.audits.Record(ctx, "scheduler", "action_item.retest_due",
				fmt.Sprintf("action_item=%s title=%q due=%s", item.PublicID, item.Title, item.DueDate.Format("2006-01-02")))
		}
		if s.logger != nil {
			s.logger.Printf("RETEST due action_item=%s title=%q", item.PublicID, item.Title)
		}
	}
	return nil
}
