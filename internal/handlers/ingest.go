// Package handlers exposes the HTTP surface: data/event ingestion, trigger
// and alert management, and the status endpoint.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"vigil/internal/ingest"
	"vigil/internal/model"
)

// IngestHandler accepts data and event batches over HTTP and hands them to
// the ingestion buffer.
type IngestHandler struct {
	buffer      *ingest.Buffer
	maxBodySize int64
}

func NewIngestHandler(buffer *ingest.Buffer, maxBodySize int64) *IngestHandler {
	if maxBodySize <= 0 {
		maxBodySize = 10 * 1024 * 1024
	}
	return &IngestHandler{buffer: buffer, maxBodySize: maxBodySize}
}

// IngestResponse reports per-item validation results.
type IngestResponse struct {
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []IngestError `json:"errors,omitempty"`
}

// IngestError describes a validation failure for one item.
type IngestError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Data handles POST bodies containing a JSON array of data points.
func (h *IngestHandler) Data() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := h.readBody(w, r)
		if !ok {
			return
		}

		var batch []model.Data
		if err := json.Unmarshal(body, &batch); err != nil {
			// Also accept a single object
			var single model.Data
			if err2 := json.Unmarshal(body, &single); err2 != nil {
				writeError(w, http.StatusBadRequest, "expected a data object or array")
				return
			}
			batch = []model.Data{single}
		}
		if len(batch) == 0 {
			writeError(w, http.StatusBadRequest, "no data provided")
			return
		}

		resp := IngestResponse{}
		accepted := make([]model.Data, 0, len(batch))
		for i := range batch {
			batch[i].Normalize()
			if err := batch[i].Validate(); err != nil {
				resp.Errors = append(resp.Errors, IngestError{Index: i, Error: err.Error()})
				resp.Rejected++
				continue
			}
			accepted = append(accepted, batch[i])
			resp.Accepted++
		}
		if len(accepted) > 0 {
			h.buffer.BufferData(accepted, true)
		}
		writeIngestResponse(w, resp)
	})
}

// Events handles POST bodies containing a JSON array of events.
func (h *IngestHandler) Events() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := h.readBody(w, r)
		if !ok {
			return
		}

		var batch []model.Event
		if err := json.Unmarshal(body, &batch); err != nil {
			var single model.Event
			if err2 := json.Unmarshal(body, &single); err2 != nil {
				writeError(w, http.StatusBadRequest, "expected an event object or array")
				return
			}
			batch = []model.Event{single}
		}
		if len(batch) == 0 {
			writeError(w, http.StatusBadRequest, "no events provided")
			return
		}

		resp := IngestResponse{}
		accepted := make([]model.Event, 0, len(batch))
		for i := range batch {
			batch[i].Normalize()
			if err := batch[i].Validate(); err != nil {
				resp.Errors = append(resp.Errors, IngestError{Index: i, Error: err.Error()})
				resp.Rejected++
				continue
			}
			accepted = append(accepted, batch[i])
			resp.Accepted++
		}
		if len(accepted) > 0 {
			h.buffer.BufferEvents(accepted, true)
		}
		writeIngestResponse(w, resp)
	})
}

func (h *IngestHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/json" {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

func writeIngestResponse(w http.ResponseWriter, resp IngestResponse) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Rejected > 0 && resp.Accepted == 0 {
		w.WriteHeader(http.StatusBadRequest)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
