package handlers

import (
	"net/http"
	"strings"
	"time"

	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

type TechniquesHandler struct {
	engagements store.EngagementsStore
	techniques  store.TechniquesStore
	audits      store.AuditStore
	logger      *utils.Logger
}

func NewTechniquesHandler(es store.EngagementsStore, ts store.TechniquesStore, audits store.AuditStore, logger *utils.Logger) *TechniquesHandler {
	return &TechniquesHandler{engagements: es, techniques: ts, audits: audits, logger: logger}
}

type techniquePayload struct {
	TechniqueRef       string  `json:"technique_ref"`
	Name               string  `json:"name"`
	Tactic             string  `json:"tactic"`
	Status             string  `json:"status"`
	Position           int     `json:"position"`
	ExecutedAt         *string `json:"executed_at"`
	DetectSeconds      *int64  `json:"detect_seconds"`
	InvestigateSeconds *int64  `json:"investigate_seconds"`
	Notes              string  `json:"notes"`
}

func (h *TechniquesHandler) List(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.loadEngagement(w, r)
	if !ok {
		return
	}
	items, err := h.techniques.ListTechniques(r.Context(), eng.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"techniques": items})
}

func (h *TechniquesHandler) Create(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.loadEngagement(w, r)
	if !ok {
		return
	}
	var payload techniquePayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.TechniqueRef) == "" {
		http.Error(w, "technique_ref is required", http.StatusBadRequest)
		return
	}
	t := &store.Technique{
		PublicID:           newPublicID(),
		EngagementID:       eng.ID,
		TechniqueRef:       payload.TechniqueRef,
		Name:               payload.Name,
		Tactic:             payload.Tactic,
		Position:           payload.Position,
		DetectSeconds:      payload.DetectSeconds,
		InvestigateSeconds: payload.InvestigateSeconds,
		Notes:              payload.Notes,
	}
	if !applyTechniquePayload(w, t, &payload) {
		return
	}
	if _, err := h.techniques.CreateTechnique(r.Context(), t); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "technique.create",
		"engagement="+eng.PublicID+" technique="+t.PublicID+" ref="+t.TechniqueRef)
	writeJSON(w, http.StatusCreated, t)
}

func (h *TechniquesHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTechnique(w, r)
	if !ok {
		return
	}
	outcomes, err := h.techniques.ListOutcomes(r.Context(), t.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"technique": t, "outcomes": outcomes})
}

func (h *TechniquesHandler) Update(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTechnique(w, r)
	if !ok {
		return
	}
	var payload techniquePayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.TechniqueRef) != "" {
		t.TechniqueRef = payload.TechniqueRef
	}
	if payload.Name != "" {
		t.Name = payload.Name
	}
	if payload.Tactic != "" {
		t.Tactic = payload.Tactic
	}
	if payload.Position > 0 {
		t.Position = payload.Position
	}
	if payload.DetectSeconds != nil {
		t.DetectSeconds = payload.DetectSeconds
	}
	if payload.InvestigateSeconds != nil {
		t.InvestigateSeconds = payload.InvestigateSeconds
	}
	if payload.Notes != "" {
		t.Notes = payload.Notes
	}
	if !applyTechniquePayload(w, t, &payload) {
		return
	}
	if err := h.techniques.UpdateTechnique(r.Context(), t); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "technique.update", "technique="+t.PublicID)
	writeJSON(w, http.StatusOK, t)
}

func (h *TechniquesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTechnique(w, r)
	if !ok {
		return
	}
	if err := h.techniques.DeleteTechnique(r.Context(), t.ID); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "technique.delete", "technique="+t.PublicID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RecordOutcome upserts one (technique, tool) detection result; a
// repeated submission for the same tool replaces the earlier outcome.
func (h *TechniquesHandler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTechnique(w, r)
	if !ok {
		return
	}
	var payload struct {
		Tool    string `json:"tool"`
		Outcome string `json:"outcome"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Tool) == "" {
		http.Error(w, "tool is required", http.StatusBadRequest)
		return
	}
	outcome, err := store.ParseDetectionOutcome(payload.Outcome)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o := &store.TechniqueOutcome{
		TechniqueID: t.ID,
		Tool:        payload.Tool,
		Outcome:     outcome,
	}
	if err := h.techniques.UpsertOutcome(r.Context(), o); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "technique.outcome",
		"technique="+t.PublicID+" tool="+o.Tool+" outcome="+string(outcome))
	writeJSON(w, http.StatusOK, o)
}

func (h *TechniquesHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTechnique(w, r)
	if !ok {
		return
	}
	outcomes, err := h.techniques.ListOutcomes(r.Context(), t.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

func applyTechniquePayload(w http.ResponseWriter, t *store.Technique, payload *techniquePayload) bool {
	if payload.Status != "" {
		status, err := store.ParseTechniqueStatus(payload.Status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return false
		}
		t.Status = status
		if status == store.TechniqueDone && t.ExecutedAt == nil && payload.ExecutedAt == nil {
			now := time.Now().UTC()
			t.ExecutedAt = &now
		}
	}
	if payload.ExecutedAt != nil {
		ts, err := time.Parse(time.RFC3339, *payload.ExecutedAt)
		if err != nil {
			http.Error(w, "invalid executed_at timestamp", http.StatusBadRequest)
			return false
		}
		utc := ts.UTC()
		t.ExecutedAt = &utc
	}
	return true
}

func (h *TechniquesHandler) loadEngagement(w http.ResponseWriter, r *http.Request) (*store.Engagement, bool) {
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

func (h *TechniquesHandler) loadTechnique(w http.ResponseWriter, r *http.Request) (*store.Technique, bool) {
	publicID, ok := parseUUIDParam(w, r, "technique_id")
	if !ok {
		return nil, false
	}
	t, err := h.techniques.GetTechniqueByPublicID(r.Context(), publicID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, false
	}
	if t == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return t, true
}
