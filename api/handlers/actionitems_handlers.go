package handlers

import (
	"net/http"
	"strings"
	"time"

	"osprey-ptx/core/actionitems"
	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

type ActionItemsHandler struct {
	engagements store.EngagementsStore
	techniques  store.TechniquesStore
	items       store.ActionItemsStore
	scheduler   *actionitems.RetestScheduler
	audits      store.AuditStore
	logger      *utils.Logger
}

func NewActionItemsHandler(es store.EngagementsStore, ts store.TechniquesStore, items store.ActionItemsStore, scheduler *actionitems.RetestScheduler, audits store.AuditStore, logger *utils.Logger) *ActionItemsHandler {
	return &ActionItemsHandler{engagements: es, techniques: ts, items: items, scheduler: scheduler, audits: audits, logger: logger}
}

type actionItemPayload struct {
	TechniqueID string  `json:"technique_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
	OwnerUserID *int64  `json:"owner_user_id"`
	DueDate     *string `json:"due_date"`
	Status      string  `json:"status"`
	Retest      *bool   `json:"retest"`
}

func (h *ActionItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.loadEngagement(w, r)
	if !ok {
		return
	}
	items, err := h.items.ListActionItems(r.Context(), eng.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action_items": items})
}

func (h *ActionItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.loadEngagement(w, r)
	if !ok {
		return
	}
	var payload actionItemPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Title) == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}
	item := &store.ActionItem{
		PublicID:     newPublicID(),
		EngagementID: eng.ID,
		Title:        payload.Title,
		Description:  payload.Description,
		OwnerUserID:  payload.OwnerUserID,
	}
	if !h.applyPayload(w, r, item, &payload) {
		return
	}
	if _, err := h.items.CreateActionItem(r.Context(), item); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "action_item.create",
		"engagement="+eng.PublicID+" action_item="+item.PublicID)
	writeJSON(w, http.StatusCreated, item)
}

func (h *ActionItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	var payload actionItemPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Title) != "" {
		item.Title = payload.Title
	}
	if payload.Description != "" {
		item.Description = payload.Description
	}
	if payload.OwnerUserID != nil {
		item.OwnerUserID = payload.OwnerUserID
	}
	if !h.applyPayload(w, r, item, &payload) {
		return
	}
	if err := h.items.UpdateActionItem(r.Context(), item); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "action_item.update", "action_item="+item.PublicID)
	writeJSON(w, http.StatusOK, item)
}

func (h *ActionItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	if err := h.items.DeleteActionItem(r.Context(), item.ID); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "action_item.delete", "action_item="+item.PublicID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RunRetestSweep triggers one scheduler pass on demand instead of
// waiting for the next cron tick.
func (h *ActionItemsHandler) RunRetestSweep(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.RunOnce(r.Context()); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ActionItemsHandler) applyPayload(w http.ResponseWriter, r *http.Request, item *store.ActionItem, payload *actionItemPayload) bool {
	if payload.Severity != "" {
		severity, err := store.ParseActionItemSeverity(payload.Severity)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return false
		}
		item.Severity = severity
	}
	if payload.Status != "" {
		status, err := store.ParseActionItemStatus(payload.Status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return false
		}
		item.Status = status
	}
	if payload.Retest != nil {
		item.Retest = *payload.Retest
	}
	if payload.DueDate != nil {
		due, err := time.Parse(time.RFC3339, *payload.DueDate)
		if err != nil {
			due, err = time.Parse("2006-01-02", *payload.DueDate)
		}
		if err != nil {
			http.Error(w, "invalid due_date", http.StatusBadRequest)
			return false
		}
		utc := due.UTC()
		item.DueDate = &utc
	}
	if payload.TechniqueID != "" {
		t, err := h.techniques.GetTechniqueByPublicID(r.Context(), payload.TechniqueID)
		if err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return false
		}
		if t == nil || t.EngagementID != item.EngagementID {
			http.Error(w, "unknown technique", http.StatusBadRequest)
			return false
		}
		item.TechniqueID = &t.ID
		item.TechniquePublic = t.PublicID
	}
	return true
}

func (h *ActionItemsHandler) loadEngagement(w http.ResponseWriter, r *http.Request) (*store.Engagement, bool) {
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

func (h *ActionItemsHandler) loadItem(w http.ResponseWriter, r *http.Request) (*store.ActionItem, bool) {
	publicID, ok := parseUUIDParam(w, r, "item_id")
	if !ok {
		return nil, false
	}
	item, err := h.items.GetActionItemByPublicID(r.Context(), publicID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, false
	}
	if item == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return item, true
}
