package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/microgrid/core/journal"
	"github.com/kilianp07/microgrid/core/model"
)

// Gate validates an external action and sends it when accepted.
type Gate interface {
	Execute(ctx context.Context, a model.Action) (model.ValidationResult, error)
}

// Snapshotter returns the latest telemetry sample of every device.
type Snapshotter interface {
	Snapshot() []model.TelemetrySample
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// NewCycleHandler serves journal records. Query parameters start and end
// (RFC 3339), status, cycle_id and limit filter the result.
func NewCycleHandler(store journal.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusNotFound, "journal disabled")
			return
		}
		v := r.URL.Query()
		q := journal.Query{Status: v.Get("status"), CycleID: v.Get("cycle_id")}
		for name, dst := range map[string]*time.Time{"start": &q.Start, "end": &q.End} {
			s := v.Get(name)
			if s == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = t
		}
		if s := v.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			q.Limit = n
		}
		recs, err := store.Query(r.Context(), q)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if recs == nil {
			recs = []journal.Record{}
		}
		writeJSON(w, http.StatusOK, recs)
	})
}

// ActionResponse is the body returned for a submitted action.
type ActionResponse struct {
	Result model.ValidationResult `json:"result"`
	Sent   bool                   `json:"sent"`
	Error  string                 `json:"error,omitempty"`
}

// NewActionHandler validates the posted action through the gate. Accepted
// and sent actions answer 200, rejected ones 422 with the fallback, and
// accepted actions the device failed to apply 502.
func NewActionHandler(g Gate) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a model.Action
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&a); err != nil {
			writeError(w, http.StatusBadRequest, "invalid action: "+err.Error())
			return
		}
		if a.DeviceID == "" || a.Kind == "" {
			writeError(w, http.StatusBadRequest, "device_id and kind are required")
			return
		}
		res, err := g.Execute(r.Context(), a)
		switch {
		case !res.Accepted:
			writeJSON(w, http.StatusUnprocessableEntity, ActionResponse{Result: res})
		case err != nil:
			status := http.StatusBadGateway
			if errors.Is(err, context.Canceled) {
				status = http.StatusServiceUnavailable
			}
			writeJSON(w, status, ActionResponse{Result: res, Error: err.Error()})
		default:
			writeJSON(w, http.StatusOK, ActionResponse{Result: res, Sent: true})
		}
	})
}

// NewTelemetryHandler serves the latest sample of every device, optionally
// restricted to the device_id query parameter.
func NewTelemetryHandler(src Snapshotter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		samples := src.Snapshot()
		if id := r.URL.Query().Get("device_id"); id != "" {
			out := samples[:0:0]
			for _, s := range samples {
				if s.DeviceID == id {
					out = append(out, s)
				}
			}
			samples = out
		}
		if samples == nil {
			samples = []model.TelemetrySample{}
		}
		writeJSON(w, http.StatusOK, samples)
	})
}
