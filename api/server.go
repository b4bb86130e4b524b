package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"osprey-ptx/api/handlers"
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

type ServerDeps struct {
	Cfg            *config.AppConfig
	Logger         *utils.Logger
	Users          store.UsersStore
	Sessions       store.SessionStore
	Audits         store.AuditStore
	Engagements    store.EngagementsStore
	Techniques     store.TechniquesStore
	Metrics        store.MetricsStore
	Orgs           store.OrgsStore
	ActionItems    store.ActionItemsStore
	SessionManager *auth.SessionManager
	Policy         *rbac.Policy
	Lifecycle      *engagements.StateMachine
	Tracker        *engagements.Tracker
	MetricsSvc     *metrics.Service
	ReportsSvc     *reports.Service
	Scheduler      *actionitems.RetestScheduler
}

type Server struct {
	cfg            *config.AppConfig
	logger         *utils.Logger
	users          store.UsersStore
	sessions       store.SessionStore
	audits         store.AuditStore
	engagements    store.EngagementsStore
	techniques     store.TechniquesStore
	metricsStore   store.MetricsStore
	orgs           store.OrgsStore
	actionItems    store.ActionItemsStore
	sessionManager *auth.SessionManager
	policy         *rbac.Policy
	lifecycle      *engagements.StateMachine
	tracker        *engagements.Tracker
	metricsSvc     *metrics.Service
	reportsSvc     *reports.Service
	scheduler      *actionitems.RetestScheduler

	httpServer *http.Server
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		cfg:            deps.Cfg,
		logger:         deps.Logger,
		users:          deps.Users,
		sessions:       deps.Sessions,
		audits:         deps.Audits,
		engagements:    deps.Engagements,
		techniques:     deps.Techniques,
		metricsStore:   deps.Metrics,
		orgs:           deps.Orgs,
		actionItems:    deps.ActionItems,
		sessionManager: deps.SessionManager,
		policy:         deps.Policy,
		lifecycle:      deps.Lifecycle,
		tracker:        deps.Tracker,
		metricsSvc:     deps.MetricsSvc,
		reportsSvc:     deps.ReportsSvc,
		scheduler:      deps.Scheduler,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	r.Use(corsHandler.Handler)

	r.MethodFunc("GET", "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(s.jsonMiddleware)
		s.registerRoutes(apiRouter)
	})
	return r
}

func (s *Server) allowedOrigins() []string {
	if s.cfg != nil && len(s.cfg.CORS.AllowedOrigins) > 0 {
		return s.cfg.CORS.AllowedOrigins
	}
	return []string{"*"}
}

func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.logger != nil {
		s.logger.Printf("HTTP listening on %s", s.cfg.ListenAddr)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) newRouteHandlers() routeHandlers {
	return routeHandlers{
		auth:        handlers.NewAuthHandler(s.cfg, s.users, s.sessions, s.sessionManager, s.policy, s.audits, s.logger),
		accounts:    handlers.NewAccountsHandler(s.users, s.audits, s.logger),
		engagements: handlers.NewEngagementsHandler(s.engagements, s.lifecycle, s.tracker, s.audits, s.logger),
		techniques:  handlers.NewTechniquesHandler(s.engagements, s.techniques, s.audits, s.logger),
		metrics:     handlers.NewMetricsHandler(s.engagements, s.metricsSvc, s.reportsSvc, s.logger),
		actionItems: handlers.NewActionItemsHandler(s.engagements, s.techniques, s.actionItems, s.scheduler, s.audits, s.logger),
		orgs:        handlers.NewOrgsHandler(s.orgs, s.audits, s.logger),
		logs:        handlers.NewLogsHandler(s.audits),
	}
}

type routeHandlers struct {
	auth        *handlers.AuthHandler
	accounts    *handlers.AccountsHandler
	engagements *handlers.EngagementsHandler
	techniques  *handlers.TechniquesHandler
	metrics     *handlers.MetricsHandler
	actionItems *handlers.ActionItemsHandler
	orgs        *handlers.OrgsHandler
	logs        *handlers.LogsHandler
}
