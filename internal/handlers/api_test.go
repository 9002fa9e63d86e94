package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/model"
	"vigil/internal/service"
)

func apiMux(defs service.Definitions, alerts service.Alerts) *http.ServeMux {
	triggers := NewTriggersHandler(defs)
	alertsHandler := NewAlertsHandler(alerts)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/{tenant}/triggers", triggers.Create)
	mux.HandleFunc("GET /api/{tenant}/triggers", triggers.List)
	mux.HandleFunc("GET /api/{tenant}/triggers/{id}", triggers.Get)
	mux.HandleFunc("PUT /api/{tenant}/triggers/{id}", triggers.Update)
	mux.HandleFunc("DELETE /api/{tenant}/triggers/{id}", triggers.Delete)
	mux.HandleFunc("PUT /api/{tenant}/triggers/{id}/conditions/{mode}", triggers.SetConditions)
	mux.HandleFunc("PUT /api/{tenant}/triggers/{id}/dampening", triggers.SetDampening)
	mux.HandleFunc("GET /api/{tenant}/triggers/{id}/members", triggers.Members)
	mux.HandleFunc("GET /api/{tenant}/alerts", alertsHandler.List)
	mux.HandleFunc("PUT /api/{tenant}/alerts/ack", alertsHandler.Ack)
	mux.HandleFunc("PUT /api/{tenant}/alerts/resolve", alertsHandler.Resolve)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestTriggerCRUD(t *testing.T) {
	defs := service.NewMemoryDefinitions()
	mux := apiMux(defs, service.NewMemoryAlerts())

	trigger := model.NewTrigger("", "high-cpu", "high cpu")
	rec := doJSON(t, mux, http.MethodPost, "/api/t1/triggers", trigger)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Duplicate create conflicts
	rec = doJSON(t, mux, http.MethodPost, "/api/t1/triggers", trigger)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/t1/triggers/high-cpu", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Trigger
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, "high cpu", got.Name)

	got.Name = "renamed"
	rec = doJSON(t, mux, http.MethodPut, "/api/t1/triggers/high-cpu", got)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/t1/triggers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Trigger
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "renamed", list[0].Name)

	rec = doJSON(t, mux, http.MethodDelete, "/api/t1/triggers/high-cpu", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/t1/triggers/high-cpu", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetConditionsEndpoint(t *testing.T) {
	defs := service.NewMemoryDefinitions()
	mux := apiMux(defs, service.NewMemoryAlerts())

	require.NoError(t, defs.AddTrigger(context.Background(), model.NewTrigger("t1", "tr1", "one")))

	conditions := []*model.Condition{
		{Type: model.Threshold, DataID: "cpu", Operator: model.OpGT, Threshold: 10},
	}
	rec := doJSON(t, mux, http.MethodPut, "/api/t1/triggers/tr1/conditions/FIRING", conditions)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := defs.GetTriggerConditions(context.Background(), "t1", "tr1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 1, stored[0].SetIndex)

	// Unknown mode segment rejected
	rec = doJSON(t, mux, http.MethodPut, "/api/t1/triggers/tr1/conditions/BOGUS", conditions)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodPut, "/api/t1/triggers/ghost/conditions/FIRING", conditions)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetDampeningEndpoint(t *testing.T) {
	defs := service.NewMemoryDefinitions()
	mux := apiMux(defs, service.NewMemoryAlerts())

	require.NoError(t, defs.AddTrigger(context.Background(), model.NewTrigger("t1", "tr1", "one")))

	payload := map[string]any{"type": "STRICT", "eval_true_setting": 3}
	rec := doJSON(t, mux, http.MethodPut, "/api/t1/triggers/tr1/dampening", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := defs.GetTriggerDampenings(context.Background(), "t1", "tr1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.Strict, stored[0].Type)
	assert.Equal(t, 3, stored[0].EvalTrueSetting)
	assert.Equal(t, model.Firing, stored[0].Mode, "mode defaults to FIRING")
}

func TestAlertsEndpoints(t *testing.T) {
	alerts := service.NewMemoryAlerts()
	mux := apiMux(service.NewMemoryDefinitions(), alerts)
	ctx := context.Background()

	trigger := model.NewTrigger("t1", "tr1", "one")
	alert := model.NewAlert(trigger, nil)
	require.NoError(t, alerts.AddAlerts(ctx, []*model.Alert{alert}))

	rec := doJSON(t, mux, http.MethodGet, "/api/t1/alerts?status=OPEN", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = doJSON(t, mux, http.MethodGet, "/api/t1/alerts?triggerId=other", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list)

	rec = doJSON(t, mux, http.MethodGet, "/api/t1/alerts?start=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodPut, "/api/t1/alerts/ack",
		map[string]any{"alert_ids": []string{alert.ID}, "by": "ops"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, mux, http.MethodPut, "/api/t1/alerts/resolve",
		map[string]any{"alert_ids": []string{alert.ID}, "by": "ops", "notes": "fixed"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	resolved, err := alerts.GetAlerts(ctx, "t1", service.AlertsCriteria{Status: model.StatusResolved})
	require.NoError(t, err)
	assert.Len(t, resolved, 1)

	// Missing ids rejected before touching the service
	rec = doJSON(t, mux, http.MethodPut, "/api/t1/alerts/ack", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
