package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"vigil/internal/model"
	"vigil/internal/service"
)

// TriggersHandler is the REST surface over the definitions service.
// Engine reload notifications ride on the definitions change listener, so
// handlers only mutate definitions.
type TriggersHandler struct {
	definitions service.Definitions
}

func NewTriggersHandler(definitions service.Definitions) *TriggersHandler {
	return &TriggersHandler{definitions: definitions}
}

func (h *TriggersHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	var trigger model.Trigger
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger payload")
		return
	}
	trigger.TenantID = tenantID
	if err := h.definitions.AddTrigger(r.Context(), &trigger); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trigger)
}

func (h *TriggersHandler) List(w http.ResponseWriter, r *http.Request) {
	triggers, err := h.definitions.GetTriggersByTenant(r.Context(), r.PathValue("tenant"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, triggers)
}

func (h *TriggersHandler) Get(w http.ResponseWriter, r *http.Request) {
	trigger, err := h.definitions.GetTrigger(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trigger)
}

func (h *TriggersHandler) Update(w http.ResponseWriter, r *http.Request) {
	var trigger model.Trigger
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger payload")
		return
	}
	trigger.TenantID = r.PathValue("tenant")
	trigger.ID = r.PathValue("id")
	if err := h.definitions.UpdateTrigger(r.Context(), &trigger); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trigger)
}

func (h *TriggersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.definitions.RemoveTrigger(r.Context(), r.PathValue("tenant"), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TriggersHandler) SetConditions(w http.ResponseWriter, r *http.Request) {
	mode := model.Mode(r.PathValue("mode"))
	if mode != model.Firing && mode != model.AutoResolve {
		writeError(w, http.StatusBadRequest, "mode must be FIRING or AUTORESOLVE")
		return
	}
	var conditions []*model.Condition
	if err := json.NewDecoder(r.Body).Decode(&conditions); err != nil {
		writeError(w, http.StatusBadRequest, "invalid conditions payload")
		return
	}
	err := h.definitions.SetConditions(r.Context(), r.PathValue("tenant"), r.PathValue("id"), mode, conditions)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conditions)
}

func (h *TriggersHandler) SetDampening(w http.ResponseWriter, r *http.Request) {
	var dampening model.Dampening
	if err := json.NewDecoder(r.Body).Decode(&dampening); err != nil {
		writeError(w, http.StatusBadRequest, "invalid dampening payload")
		return
	}
	dampening.TenantID = r.PathValue("tenant")
	dampening.TriggerID = r.PathValue("id")
	if dampening.Mode == "" {
		dampening.Mode = model.Firing
	}
	if err := h.definitions.SetDampening(r.Context(), &dampening); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dampening)
}

func (h *TriggersHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.definitions.GetMemberTriggers(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// AlertsHandler is the REST surface over the alerts service.
type AlertsHandler struct {
	alerts service.Alerts
}

func NewAlertsHandler(alerts service.Alerts) *AlertsHandler {
	return &AlertsHandler{alerts: alerts}
}

func (h *AlertsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria := service.AlertsCriteria{
		TriggerID: q.Get("triggerId"),
		Status:    model.AlertStatus(q.Get("status")),
	}
	if v := q.Get("start"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start time")
			return
		}
		criteria.StartTime = ts
	}
	if v := q.Get("end"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end time")
			return
		}
		criteria.EndTime = ts
	}

	alerts, err := h.alerts.GetAlerts(r.Context(), r.PathValue("tenant"), criteria)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

type lifecycleRequest struct {
	AlertIDs []string `json:"alert_ids"`
	By       string   `json:"by,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

func (h *AlertsHandler) Ack(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.AlertIDs) == 0 {
		writeError(w, http.StatusBadRequest, "alert_ids required")
		return
	}
	if err := h.alerts.AckAlerts(r.Context(), r.PathValue("tenant"), req.AlertIDs, req.By, req.Notes); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AlertsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.AlertIDs) == 0 {
		writeError(w, http.StatusBadRequest, "alert_ids required")
		return
	}
	if err := h.alerts.ResolveAlerts(r.Context(), r.PathValue("tenant"), req.AlertIDs, req.By, req.Notes); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrEmptyTenantID),
		errors.Is(err, model.ErrEmptyTriggerID),
		errors.Is(err, model.ErrEmptyDataID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
