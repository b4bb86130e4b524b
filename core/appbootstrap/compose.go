package appbootstrap

import (
	"database/sql"

	"osprey-ptx/api"
	"osprey-ptx/config"
	"osprey-ptx/core/actionitems"
	"osprey-ptx/core/auth"
	"osprey-ptx/core/engagements"
	"osprey-ptx/core/metrics"
	"osprey-ptx/core/rbac"
	"osprey-ptx/core/reports"
	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	sessions   store.SessionStore
	scheduler  *actionitems.RetestScheduler
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*runtimeComposition, error) {
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	audits := store.NewAuditStore(db)
	engagementsStore := store.NewEngagementsStore(db)
	techniquesStore := store.NewTechniquesStore(db)
	metricsStore := store.NewMetricsStore(db)
	orgsStore := store.NewOrgsStore(db)
	actionItemsStore := store.NewActionItemsStore(db)

	policy, err := rbac.NewPolicy(rbac.DefaultRoles())
	if err != nil {
		return nil, err
	}
	sessionManager := auth.NewSessionManager(sessions, cfg, logger)
	tracker := engagements.NewTracker(engagementsStore, audits, logger)
	required := engagements.RequiredApproverRoles(cfg.Engagements.RequiredApproverRoles, logger)
	lifecycle := engagements.NewStateMachine(engagementsStore, techniquesStore, tracker, required, audits, logger)
	metricsSvc := metrics.NewService(engagementsStore, techniquesStore, metricsStore, orgsStore, audits, logger)
	reportsSvc := reports.NewService(engagementsStore, techniquesStore, metricsStore, actionItemsStore, audits, logger)
	scheduler := actionitems.NewRetestScheduler(actionItemsStore, audits, &cfg.Scheduler, logger)

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Cfg:            cfg,
			Logger:         logger,
			Users:          users,
			Sessions:       sessions,
			Audits:         audits,
			Engagements:    engagementsStore,
			Techniques:     techniquesStore,
			Metrics:        metricsStore,
			Orgs:           orgsStore,
			ActionItems:    actionItemsStore,
			SessionManager: sessionManager,
			Policy:         policy,
			Lifecycle:      lifecycle,
			Tracker:        tracker,
			MetricsSvc:     metricsSvc,
			ReportsSvc:     reportsSvc,
			Scheduler:      scheduler,
		},
		sessions:  sessions,
		scheduler: scheduler,
	}, nil
}
