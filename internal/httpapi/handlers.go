package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"siri-poller/internal/logging"
	"siri-poller/internal/snapshot"
)

const snapshotIDHeader = "X-Snapshot-Id"

type Handler struct {
	src         SnapshotSource
	cacheMaxAge time.Duration
	now         func() time.Time
}

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse describes the pass behind the current snapshot.
type StatusResponse struct {
	SnapshotID  string    `json:"snapshotId"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Probed      int       `json:"probed"`
	Empty       int       `json:"empty"`
	Failed      int       `json:"failed"`
	Incomplete  int       `json:"incomplete"`
	Dropped     int       `json:"dropped"`
	Lines       int       `json:"lines"`
	Vehicles    int       `json:"vehicles"`
}

type HealthResponse struct {
	Status    string     `json:"status"`
	LastPass  *time.Time `json:"lastPass"`
	Timestamp time.Time  `json:"timestamp"`
}

// GetBuses handles GET /get_buses and GET /api/snapshot. The body is the
// JSON array of lines, never null.
func (h *Handler) GetBuses(w http.ResponseWriter, r *http.Request) {
	snap := h.src.Current(r.Context())
	h.snapshotHeaders(w, snap)
	writeJSON(w, r, http.StatusOK, snap.Lines)
}

// GetStatus handles GET /api/snapshot/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.src.Current(r.Context())
	h.snapshotHeaders(w, snap)
	resp := StatusResponse{
		StartedAt:   snap.StartedAt,
		CompletedAt: snap.CompletedAt,
		Probed:      snap.Probed,
		Empty:       snap.Empty,
		Failed:      snap.Failed,
		Incomplete:  snap.Incomplete,
		Dropped:     snap.Dropped,
		Lines:       len(snap.Lines),
		Vehicles:    snap.Vehicles(),
	}
	if snap.ID != uuid.Nil {
		resp.SnapshotID = snap.ID.String()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// GetLine handles GET /api/lines/{line}, matching the published line name.
func (h *Handler) GetLine(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "line")
	snap := h.src.Current(r.Context())
	h.snapshotHeaders(w, snap)
	for _, l := range snap.Lines {
		if l.Line == name {
			writeJSON(w, r, http.StatusOK, l)
			return
		}
	}
	writeJSON(w, r, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("line %q has no vehicles in the current snapshot", name)})
}

// Health reports liveness and when the last pass completed. It never
// triggers a pass.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Timestamp: h.now().UTC()}
	if last, ok := h.src.Last(); ok {
		t := last.CompletedAt.UTC()
		resp.LastPass = &t
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) snapshotHeaders(w http.ResponseWriter, snap snapshot.Snapshot) {
	if snap.ID != uuid.Nil {
		w.Header().Set(snapshotIDHeader, snap.ID.String())
	}
	if h.cacheMaxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.cacheMaxAge.Seconds())))
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.FromContext(r.Context()).Warn("write response failed", slog.String("error", err.Error()))
	}
}
