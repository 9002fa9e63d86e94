package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/engine"
	"vigil/internal/ingest"
	"vigil/internal/model"
)

type sinkRecorder struct {
	mu     sync.Mutex
	data   []model.Data
	events []model.Event
}

func (s *sinkRecorder) SendData(_ context.Context, data []model.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, data...)
	return nil
}

func (s *sinkRecorder) SendEvents(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *sinkRecorder) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data), len(s.events)
}

func ingestSetup(activeDataIDs ...string) (*IngestHandler, *ingest.Buffer, *sinkRecorder) {
	sink := &sinkRecorder{}
	filter := engine.NewActiveDataCache()
	for _, id := range activeDataIDs {
		filter.Register("t1", "tr1", id)
	}
	buffer := ingest.NewBuffer(ingest.Config{Sink: sink, Filter: filter, Workers: 1})
	buffer.Start()
	return NewIngestHandler(buffer, 0), buffer, sink
}

func postJSON(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/data", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIngestDataArray(t *testing.T) {
	h, buffer, sink := ingestSetup("cpu")

	rec := postJSON(h.Data(),
		`[{"tenant_id":"t1","id":"cpu","timestamp":1000,"value":15}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"accepted":1`)

	buffer.Stop()
	data, _ := sink.counts()
	assert.Equal(t, 1, data)
}

func TestIngestDataSingleObject(t *testing.T) {
	h, buffer, sink := ingestSetup("cpu")

	rec := postJSON(h.Data(),
		`{"tenant_id":"t1","id":"cpu","timestamp":1000,"value":15}`)
	require.Equal(t, http.StatusOK, rec.Code)

	buffer.Stop()
	data, _ := sink.counts()
	assert.Equal(t, 1, data)
}

func TestIngestDataPartialRejection(t *testing.T) {
	h, buffer, _ := ingestSetup("cpu")
	defer buffer.Stop()

	rec := postJSON(h.Data(),
		`[{"tenant_id":"t1","id":"cpu","timestamp":1000,"value":15},
		  {"tenant_id":"","id":"cpu","timestamp":1000,"value":1}]`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Accepted)
	assert.Equal(t, 1, resp.Rejected)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
}

func TestIngestDataAllRejected(t *testing.T) {
	h, buffer, _ := ingestSetup("cpu")
	defer buffer.Stop()

	rec := postJSON(h.Data(), `[{"id":"cpu","timestamp":1000}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestDataMalformedBody(t *testing.T) {
	h, buffer, _ := ingestSetup("cpu")
	defer buffer.Stop()

	rec := postJSON(h.Data(), `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(h.Data(), `[]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestRejectsWrongContentType(t *testing.T) {
	h, buffer, _ := ingestSetup("cpu")
	defer buffer.Stop()

	req := httptest.NewRequest(http.MethodPost, "/data", strings.NewReader(`[]`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.Data().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestIngestEvents(t *testing.T) {
	h, buffer, sink := ingestSetup("deploys")

	rec := postJSON(h.Events(),
		`[{"tenant_id":"t1","data_id":"deploys","category":"DEPLOYMENT","text":"rollout"}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	buffer.Stop()
	_, events := sink.counts()
	assert.Equal(t, 1, events)
}
