package handlers

import (
	"net/http"

	"osprey-ptx/core/metrics"
	"osprey-ptx/core/reports"
	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

type MetricsHandler struct {
	engagements store.EngagementsStore
	metrics     *metrics.Service
	reports     *reports.Service
	logger      *utils.Logger
}

func NewMetricsHandler(es store.EngagementsStore, ms *metrics.Service, rs *reports.Service, logger *utils.Logger) *MetricsHandler {
	return &MetricsHandler{engagements: es, metrics: ms, reports: rs, logger: logger}
}

func (h *MetricsHandler) Get(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.loadEngagement(w, r)
	if !ok {
		return
	}
	m, err := h.metrics.Scorecard(r.Context(), eng.ID)
	if err != nil {
		renderDomainError(w, err)
		return
	}
	if m == nil {
		http.Error(w, "metrics not computed", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MetricsHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.loadEngagement(w, r)
	if !ok {
		return
	}
	m, err := h.metrics.Recompute(r.Context(), eng.ID, actorName(r))
	if err != nil {
		renderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MetricsHandler) ReportSnapshot(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.loadEngagement(w, r)
	if !ok {
		return
	}
	snap, err := h.reports.BuildSnapshot(r.Context(), eng.ID, actorName(r))
	if err != nil {
		renderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *MetricsHandler) loadEngagement(w http.ResponseWriter, r *http.Request) (*store.Engagement, bool) {
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
