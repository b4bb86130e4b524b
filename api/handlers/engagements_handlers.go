package handlers

import (
	"net/http"
	"strings"

	"osprey-ptx/core/engagements"
	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

type EngagementsHandler struct {
	engagements store.EngagementsStore
	lifecycle   *engagements.StateMachine
	tracker     *engagements.Tracker
	audits      store.AuditStore
	logger      *utils.Logger
}

func NewEngagementsHandler(es store.EngagementsStore, lifecycle *engagements.StateMachine, tracker *engagements.Tracker, audits store.AuditStore, logger *utils.Logger) *EngagementsHandler {
	return &EngagementsHandler{engagements: es, lifecycle: lifecycle, tracker: tracker, audits: audits, logger: logger}
}

type engagementPayload struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Methodology     string `json:"methodology"`
	OrganizationID  *int64 `json:"organization_id"`
	ThreatProfileID *int64 `json:"threat_profile_id"`
}

func (h *EngagementsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EngagementFilter{
		Search: q.Get("q"),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := store.ParseEngagementStatus(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.Status = status
	}
	items, err := h.engagements.ListEngagements(r.Context(), filter)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"engagements": items})
}

func (h *EngagementsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload engagementPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	methodology := store.MethodologyAtomic
	if payload.Methodology != "" {
		var err error
		methodology, err = store.ParseMethodology(payload.Methodology)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	eng := &store.Engagement{
		PublicID:        newPublicID(),
		Name:            strings.TrimSpace(payload.Name),
		Description:     payload.Description,
		Methodology:     methodology,
		Status:          store.StatusDraft,
		OrganizationID:  payload.OrganizationID,
		ThreatProfileID: payload.ThreatProfileID,
	}
	if _, err := h.engagements.CreateEngagement(r.Context(), eng); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "engagement.create", "engagement="+eng.PublicID)
	writeJSON(w, http.StatusCreated, eng)
}

func (h *EngagementsHandler) Get(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eng)
}

func (h *EngagementsHandler) Update(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.load(w, r)
	if !ok {
		return
	}
	var payload engagementPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Name) != "" {
		eng.Name = strings.TrimSpace(payload.Name)
	}
	eng.Description = payload.Description
	if payload.Methodology != "" {
		methodology, err := store.ParseMethodology(payload.Methodology)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		eng.Methodology = methodology
	}
	eng.OrganizationID = payload.OrganizationID
	eng.ThreatProfileID = payload.ThreatProfileID
	if err := h.engagements.UpdateEngagement(r.Context(), eng); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "engagement.update", "engagement="+eng.PublicID)
	writeJSON(w, http.StatusOK, eng)
}

func (h *EngagementsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.engagements.DeleteEngagement(r.Context(), eng.ID); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "engagement.delete", "engagement="+eng.PublicID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *EngagementsHandler) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.load(w, r)
	if !ok {
		return
	}
	updated, err := h.lifecycle.GeneratePlan(r.Context(), eng.ID, actorName(r))
	if err != nil {
		renderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *EngagementsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.load(w, r)
	if !ok {
		return
	}
	var payload struct {
		Target string `json:"target"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	target, err := store.ParseEngagementStatus(payload.Target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	updated, err := h.lifecycle.Transition(r.Context(), eng.ID, target, actorName(r))
	if err != nil {
		renderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *EngagementsHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.load(w, r)
	if !ok {
		return
	}
	approvals, err := h.tracker.ListApprovals(r.Context(), eng.ID)
	if err != nil {
		renderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}

func (h *EngagementsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.load(w, r)
	if !ok {
		return
	}
	var payload struct {
		Role     string `json:"role"`
		Comments string `json:"comments"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	approval, err := h.tracker.RecordApproval(r.Context(), eng.ID, payload.Role, actorName(r), payload.Comments)
	if err != nil {
		renderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (h *EngagementsHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.load(w, r)
	if !ok {
		return
	}
	roles, err := h.engagements.ListRoleAssignments(r.Context(), eng.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *EngagementsHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.load(w, r)
	if !ok {
		return
	}
	var payload struct {
		Role             string `json:"role"`
		UserID           *int64 `json:"user_id"`
		ExternalIdentity string `json:"external_identity"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	role, err := store.ParseEngagementRole(payload.Role)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ra := &store.RoleAssignment{
		EngagementID:     eng.ID,
		UserID:           payload.UserID,
		ExternalIdentity: payload.ExternalIdentity,
		Role:             role,
	}
	if _, err := h.engagements.AddRoleAssignment(r.Context(), ra); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "engagement.assign_role",
		"engagement="+eng.PublicID+" role="+string(role))
	writeJSON(w, http.StatusCreated, ra)
}

func (h *EngagementsHandler) load(w http.ResponseWriter, r *http.Request) (*store.Engagement, bool) {
	publicID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return nil, false
	}
	eng, err := h.engagements.GetEngagementByPublicID(r.Context(), publicID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, false
	}
	if eng == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return eng, true
}
