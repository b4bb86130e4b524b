package api

import (
	"github.com/go-chi/chi/v5"

	"osprey-ptx/core/rbac"
)

func (s *Server) registerRoutes(apiRouter chi.Router) {
	h := s.newRouteHandlers()

	apiRouter.Route("/auth", func(authRouter chi.Router) {
		authRouter.MethodFunc("POST", "/login", h.auth.Login)
		authRouter.MethodFunc("POST", "/logout", s.withSession(h.auth.Logout))
		authRouter.MethodFunc("GET", "/me", s.withSession(h.auth.Me))
	})

	apiRouter.Route("/users", func(usersRouter chi.Router) {
		usersRouter.MethodFunc("GET", "/", s.sessionPerm(rbac.PermAccountsManage, h.accounts.List))
		usersRouter.MethodFunc("POST", "/", s.sessionPerm(rbac.PermAccountsManage, h.accounts.Create))
		usersRouter.MethodFunc("PUT", "/{id:[0-9]+}/active", s.sessionPerm(rbac.PermAccountsManage, h.accounts.SetActive))
	})

	apiRouter.Route("/engagements", func(engRouter chi.Router) {
		engRouter.MethodFunc("GET", "/", s.sessionPerm(rbac.PermEngagementsView, h.engagements.List))
		engRouter.MethodFunc("POST", "/", s.sessionPerm(rbac.PermEngagementsManage, h.engagements.Create))
		engRouter.MethodFunc("GET", "/{id}", s.sessionPerm(rbac.PermEngagementsView, h.engagements.Get))
		engRouter.MethodFunc("PUT", "/{id}", s.sessionPerm(rbac.PermEngagementsManage, h.engagements.Update))
		engRouter.MethodFunc("DELETE", "/{id}", s.sessionPerm(rbac.PermEngagementsManage, h.engagements.Delete))

		engRouter.MethodFunc("POST", "/{id}/plan", s.sessionPerm(rbac.PermEngagementsManage, h.engagements.GeneratePlan))
		engRouter.MethodFunc("POST", "/{id}/transition", s.sessionPerm(rbac.PermEngagementsTransition, h.engagements.Transition))
		engRouter.MethodFunc("GET", "/{id}/approvals", s.sessionPerm(rbac.PermEngagementsView, h.engagements.ListApprovals))
		engRouter.MethodFunc("POST", "/{id}/approvals", s.sessionPerm(rbac.PermEngagementsApprove, h.engagements.Approve))
		engRouter.MethodFunc("GET", "/{id}/roles", s.sessionPerm(rbac.PermEngagementsView, h.engagements.ListRoles))
		engRouter.MethodFunc("POST", "/{id}/roles", s.sessionPerm(rbac.PermEngagementsManage, h.engagements.AssignRole))

		engRouter.MethodFunc("GET", "/{id}/techniques", s.sessionPerm(rbac.PermTechniquesView, h.techniques.List))
		engRouter.MethodFunc("POST", "/{id}/techniques", s.sessionPerm(rbac.PermTechniquesManage, h.techniques.Create))

		engRouter.MethodFunc("GET", "/{id}/metrics", s.sessionPerm(rbac.PermMetricsView, h.metrics.Get))
		engRouter.MethodFunc("POST", "/{id}/metrics/recompute", s.sessionPerm(rbac.PermMetricsRecompute, h.metrics.Recompute))
		engRouter.MethodFunc("GET", "/{id}/report", s.sessionPerm(rbac.PermReportsGenerate, h.metrics.ReportSnapshot))

		engRouter.MethodFunc("GET", "/{id}/action-items", s.sessionPerm(rbac.PermActionItemsView, h.actionItems.List))
		engRouter.MethodFunc("POST", "/{id}/action-items", s.sessionPerm(rbac.PermActionItemsManage, h.actionItems.Create))
	})

	apiRouter.Route("/techniques", func(techRouter chi.Router) {
		techRouter.MethodFunc("GET", "/{technique_id}", s.sessionPerm(rbac.PermTechniquesView, h.techniques.Get))
		techRouter.MethodFunc("PUT", "/{technique_id}", s.sessionPerm(rbac.PermTechniquesManage, h.techniques.Update))
		techRouter.MethodFunc("DELETE", "/{technique_id}", s.sessionPerm(rbac.PermTechniquesManage, h.techniques.Delete))
		techRouter.MethodFunc("GET", "/{technique_id}/outcomes", s.sessionPerm(rbac.PermTechniquesView, h.techniques.ListOutcomes))
		techRouter.MethodFunc("POST", "/{technique_id}/outcomes", s.sessionPerm(rbac.PermTechniquesManage, h.techniques.RecordOutcome))
	})

	apiRouter.Route("/action-items", func(itemsRouter chi.Router) {
		itemsRouter.MethodFunc("PUT", "/{item_id}", s.sessionPerm(rbac.PermActionItemsManage, h.actionItems.Update))
		itemsRouter.MethodFunc("DELETE", "/{item_id}", s.sessionPerm(rbac.PermActionItemsManage, h.actionItems.Delete))
		itemsRouter.MethodFunc("POST", "/retest-sweep", s.sessionPerm(rbac.PermActionItemsManage, h.actionItems.RunRetestSweep))
	})

	apiRouter.Route("/organizations", func(orgsRouter chi.Router) {
		orgsRouter.MethodFunc("GET", "/", s.sessionPerm(rbac.PermEngagementsView, h.orgs.List))
		orgsRouter.MethodFunc("POST", "/", s.sessionPerm(rbac.PermOrgsManage, h.orgs.Create))
		orgsRouter.MethodFunc("GET", "/{org_id:[0-9]+}/threat-profiles", s.sessionPerm(rbac.PermEngagementsView, h.orgs.ListThreatProfiles))
		orgsRouter.MethodFunc("POST", "/{org_id:[0-9]+}/threat-profiles", s.sessionPerm(rbac.PermOrgsManage, h.orgs.CreateThreatProfile))
		orgsRouter.MethodFunc("GET", "/{org_id:[0-9]+}/weights", s.sessionPerm(rbac.PermEngagementsView, h.orgs.GetWeights))
		orgsRouter.MethodFunc("PUT", "/{org_id:[0-9]+}/weights", s.sessionPerm(rbac.PermOrgsManage, h.orgs.SetWeight))
	})

	apiRouter.MethodFunc("GET", "/logs", s.sessionPerm(rbac.PermAuditView, h.logs.List))
}
