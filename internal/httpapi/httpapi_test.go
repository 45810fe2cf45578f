package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siri-poller/internal/snapshot"
	"siri-poller/internal/vehicle"
)

type fakeSource struct {
	snap    snapshot.Snapshot
	hasLast bool
	calls   int
}

func (f *fakeSource) Current(context.Context) snapshot.Snapshot {
	f.calls++
	return f.snap
}

func (f *fakeSource) Last() (snapshot.Snapshot, bool) { return f.snap, f.hasLast }

func sampleSnapshot() snapshot.Snapshot {
	arrival := "7 min"
	return snapshot.Snapshot{
		ID:          uuid.MustParse("3f2b9c1e-8d7a-4e56-9a0b-1c2d3e4f5a6b"),
		StartedAt:   time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2024, 3, 10, 10, 0, 4, 0, time.UTC),
		Probed:      100,
		Empty:       97,
		Failed:      1,
		Lines: []snapshot.LineResult{
			{Line: "5", Vehicles: []vehicle.Record{{VehicleID: "TASRUD_5", Call: vehicle.Call{ArrivalTime: &arrival}}}},
			{Line: "42A", Vehicles: []vehicle.Record{{VehicleID: "TASRUD_42"}}},
		},
	}
}

func do(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Origin", "https://map.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetBuses(t *testing.T) {
	src := &fakeSource{snap: sampleSnapshot()}
	h := NewRouter(src, Options{CacheMaxAge: 15 * time.Second}, nil)

	for _, path := range []string{"/get_buses", "/api/snapshot"} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, h, path)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, "3f2b9c1e-8d7a-4e56-9a0b-1c2d3e4f5a6b", rec.Header().Get(snapshotIDHeader))
			assert.Equal(t, "public, max-age=15", rec.Header().Get("Cache-Control"))
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

			var body []map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Len(t, body, 2)
			assert.Equal(t, "5", body[0]["line"])
			assert.Equal(t, "42A", body[1]["line"])
			vs := body[0]["vehicles"].([]any)
			call := vs[0].(map[string]any)["call"].(map[string]any)
			assert.Equal(t, "7 min", call["arrival_time"])
		})
	}
}

func TestGetBusesEmptySnapshotIsArray(t *testing.T) {
	h := NewRouter(&fakeSource{snap: snapshot.Snapshot{Lines: []snapshot.LineResult{}}}, Options{}, nil)

	rec := do(t, h, "/get_buses")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Empty(t, rec.Header().Get(snapshotIDHeader))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestGetStatus(t *testing.T) {
	h := NewRouter(&fakeSource{snap: sampleSnapshot()}, Options{}, nil)

	rec := do(t, h, "/api/snapshot/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "3f2b9c1e-8d7a-4e56-9a0b-1c2d3e4f5a6b", st.SnapshotID)
	assert.Equal(t, 100, st.Probed)
	assert.Equal(t, 97, st.Empty)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 2, st.Lines)
	assert.Equal(t, 2, st.Vehicles)
}

func TestGetLine(t *testing.T) {
	h := NewRouter(&fakeSource{snap: sampleSnapshot()}, Options{}, nil)

	rec := do(t, h, "/api/lines/42A")
	require.Equal(t, http.StatusOK, rec.Code)
	var line snapshot.LineResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &line))
	assert.Equal(t, "42A", line.Line)
	require.Len(t, line.Vehicles, 1)
	assert.Equal(t, "TASRUD_42", line.Vehicles[0].VehicleID)

	rec = do(t, h, "/api/lines/99")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Contains(t, e.Error, "99")
}

func TestHealthDoesNotPoll(t *testing.T) {
	src := &fakeSource{snap: sampleSnapshot()}
	h := NewRouter(src, Options{}, nil)

	rec := do(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Nil(t, body.LastPass)
	assert.Zero(t, src.calls)

	src.hasLast = true
	rec = do(t, h, "/health")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.LastPass)
	assert.True(t, body.LastPass.Equal(sampleSnapshot().CompletedAt))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	h := NewRouter(&fakeSource{snap: sampleSnapshot()}, Options{CORSOrigins: []string{"https://map.example"}}, nil)

	rec := do(t, h, "/get_buses")
	assert.Equal(t, "https://map.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/get_buses", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
