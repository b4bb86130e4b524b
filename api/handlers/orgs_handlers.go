package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"osprey-ptx/core/metrics"
	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

type OrgsHandler struct {
	orgs   store.OrgsStore
	audits store.AuditStore
	logger *utils.Logger
}

func NewOrgsHandler(orgs store.OrgsStore, audits store.AuditStore, logger *utils.Logger) *OrgsHandler {
	return &OrgsHandler{orgs: orgs, audits: audits, logger: logger}
}

func (h *OrgsHandler) List(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.orgs.ListOrganizations(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

func (h *OrgsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	org := &store.Organization{Name: payload.Name}
	if _, err := h.orgs.CreateOrganization(r.Context(), org); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "org.create", "name="+org.Name)
	writeJSON(w, http.StatusCreated, org)
}

func (h *OrgsHandler) ListThreatProfiles(w http.ResponseWriter, r *http.Request) {
	org, ok := h.loadOrg(w, r)
	if !ok {
		return
	}
	profiles, err := h.orgs.ListThreatProfiles(r.Context(), org.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threat_profiles": profiles})
}

func (h *OrgsHandler) CreateThreatProfile(w http.ResponseWriter, r *http.Request) {
	org, ok := h.loadOrg(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	tp := &store.ThreatProfile{
		OrganizationID: &org.ID,
		Name:           payload.Name,
		Description:    payload.Description,
	}
	if _, err := h.orgs.CreateThreatProfile(r.Context(), tp); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "org.threat_profile_create", "name="+tp.Name)
	writeJSON(w, http.StatusCreated, tp)
}

// GetWeights returns the effective weight table: system defaults with
// the organization's overrides applied on top.
func (h *OrgsHandler) GetWeights(w http.ResponseWriter, r *http.Request) {
	org, ok := h.loadOrg(w, r)
	if !ok {
		return
	}
	overrides, err := h.orgs.OutcomeWeightOverrides(r.Context(), org.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	table := metrics.NewWeightTable(overrides)
	effective := map[string]float64{}
	for _, outcome := range store.DetectionOutcomes {
		if weight, applicable := table.Weight(outcome); applicable {
			effective[string(outcome)] = weight
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"defaults":  metrics.DefaultWeights,
		"overrides": overrides,
		"effective": effective,
	})
}

// SetWeight stores an organization override. The system default table
// itself is immutable.
func (h *OrgsHandler) SetWeight(w http.ResponseWriter, r *http.Request) {
	org, ok := h.loadOrg(w, r)
	if !ok {
		return
	}
	var payload struct {
		Outcome string  `json:"outcome"`
		Weight  float64 `json:"weight"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	outcome, err := store.ParseDetectionOutcome(payload.Outcome)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if outcome == store.OutcomeNotApplicable {
		http.Error(w, "not_applicable carries no weight", http.StatusBadRequest)
		return
	}
	if payload.Weight < 0 || payload.Weight > 1 {
		http.Error(w, "weight must be between 0 and 1", http.StatusBadRequest)
		return
	}
	if err := h.orgs.SetOutcomeWeight(r.Context(), org.ID, outcome, payload.Weight); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "org.set_weight",
		"org="+strconv.FormatInt(org.ID, 10)+" outcome="+string(outcome))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *OrgsHandler) loadOrg(w http.ResponseWriter, r *http.Request) (*store.Organization, bool) {
	id, err := strconv.ParseInt(urlParam(r, "org_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id format", http.StatusBadRequest)
		return nil, false
	}
	org, err := h.orgs.GetOrganization(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, false
	}
	if org == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return org, true
}
