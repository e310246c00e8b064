package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CALEB-creator15/sih-backend-project/internal/congestion"
	"github.com/CALEB-creator15/sih-backend-project/internal/consumer"
	"github.com/CALEB-creator15/sih-backend-project/internal/repository"
	"github.com/CALEB-creator15/sih-backend-project/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T, vision VisionMonitor) *Router {
	t.Helper()
	logger := zap.NewNop()

	traffic := service.NewTrafficService(
		repository.NewMemorySensorRepo(),
		congestion.NewClassifier(congestion.DefaultThresholds),
		nil,
		logger,
	)
	signals := service.NewSignalService(repository.NewMemoryLightRepo(), logger)
	incidents := service.NewIncidentService(repository.NewIncidentLog(), nil, logger)

	router := NewRouter(logger)
	router.RegisterSystemRoutes(NewSystemHandler(vision))
	router.RegisterTrafficRoutes(NewTrafficHandler(traffic, signals, incidents, logger))
	return router
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestTrafficAPI_EndToEnd(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := do(t, router, http.MethodPost, "/traffic/api/v1/sensor", `{"sensor_id":"J1-N","vehicle_count":62}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "received", body["status"])
	assert.Equal(t, "J1-N", body["sensor_id"])
	assert.Equal(t, true, body["congestion"])
	storedAt, err := time.Parse(time.RFC3339Nano, body["stored_at"].(string))
	require.NoError(t, err)

	rec = do(t, router, http.MethodGet, "/traffic/api/v1/sensor/J1-N", "")
	require.Equal(t, http.StatusOK, rec.Code)
	reading := decode(t, rec)
	assert.Equal(t, float64(62), reading["vehicle_count"])
	assert.Equal(t, "sensor", reading["source"])
	receivedAt, err := time.Parse(time.RFC3339Nano, reading["received_at"].(string))
	require.NoError(t, err)
	assert.True(t, storedAt.Equal(receivedAt))

	// density alone tips it over
	rec = do(t, router, http.MethodPost, "/traffic/api/v1/sensor", `{"sensor_id":"J2-S","vehicle_count":10,"density":0.9}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, decode(t, rec)["congestion"])

	rec = do(t, router, http.MethodPost, "/traffic/api/v1/light", `{"junction_id":"J1","green_duration_sec":45}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "updated", body["status"])
	assert.Equal(t, float64(45), body["green_duration_sec"])

	rec = do(t, router, http.MethodGet, "/traffic/api/v1/light/J1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	light := decode(t, rec)
	assert.Equal(t, float64(5), light["amber_duration_sec"])
	assert.Equal(t, float64(30), light["red_duration_sec"])

	rec = do(t, router, http.MethodPost, "/traffic/api/v1/incident", `{"location":"MG Road","incident_type":"accident","severity":4}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["incident_id"])

	rec = do(t, router, http.MethodPost, "/traffic/api/v1/incident",
		`{"location":"Ring Rd","incident_type":"breakdown","severity":2,"reported_at":"2026-03-01T08:30:00Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, float64(2), body["incident_id"])
	assert.Equal(t, "2026-03-01T08:30:00Z", body["reported_at"])

	rec = do(t, router, http.MethodGet, "/traffic/api/v1/incidents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var incidents []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &incidents))
	require.Len(t, incidents, 2)
	assert.Equal(t, "MG Road", incidents[0]["location"])
	assert.Nil(t, incidents[0]["description"])
	assert.Equal(t, "Ring Rd", incidents[1]["location"])
}

func TestTrafficAPI_SensorValidation(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"negative count", `{"sensor_id":"J3","vehicle_count":-1}`},
		{"missing count", `{"sensor_id":"J3"}`},
		{"missing sensor id", `{"vehicle_count":3}`},
		{"blank sensor id", `{"sensor_id":"  ","vehicle_count":3}`},
		{"negative speed", `{"sensor_id":"J3","vehicle_count":3,"avg_speed_kmph":-5}`},
		{"count not a number", `{"sensor_id":"J3","vehicle_count":"many"}`},
		{"malformed", `{"sensor_id":`},
		{"empty body", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/traffic/api/v1/sensor", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}

	rec := do(t, router, http.MethodGet, "/traffic/api/v1/sensor/J3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "not found")
}

func TestTrafficAPI_LightValidation(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, body := range []string{
		`{"junction_id":"J1"}`,
		`{"green_duration_sec":10}`,
		`{"junction_id":"J1","green_duration_sec":-1}`,
		`{"junction_id":"J1","green_duration_sec":10,"red_duration_sec":-30}`,
	} {
		rec := do(t, router, http.MethodPost, "/traffic/api/v1/light", body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, body)
	}

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/traffic/api/v1/light/J1", "").Code)
}

func TestTrafficAPI_RejectedIncidentDoesNotConsumeID(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, body := range []string{
		`{"location":"X","incident_type":"fire","severity":6}`,
		`{"location":"X","incident_type":"fire","severity":0}`,
		`{"location":"X","incident_type":"fire"}`,
		`{"incident_type":"fire","severity":3}`,
	} {
		rec := do(t, router, http.MethodPost, "/traffic/api/v1/incident", body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, body)
	}

	rec := do(t, router, http.MethodPost, "/traffic/api/v1/incident", `{"location":"X","incident_type":"fire","severity":3,"description":"smoke"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["incident_id"])
}

func TestTrafficAPI_ListsAndSummary(t *testing.T) {
	router := newTestRouter(t, nil)

	do(t, router, http.MethodPost, "/traffic/api/v1/sensor", `{"sensor_id":"B","vehicle_count":51}`)
	do(t, router, http.MethodPost, "/traffic/api/v1/sensor", `{"sensor_id":"A","vehicle_count":50,"density":0.8}`)
	do(t, router, http.MethodPost, "/traffic/api/v1/light", `{"junction_id":"J2","green_duration_sec":20}`)

	rec := do(t, router, http.MethodGet, "/traffic/api/v1/sensors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var readings []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &readings))
	require.Len(t, readings, 2)
	assert.Equal(t, "A", readings[0]["sensor_id"])

	rec = do(t, router, http.MethodGet, "/traffic/api/v1/congestion", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode(t, rec)
	assert.Equal(t, float64(2), summary["total"])
	assert.Equal(t, float64(1), summary["congested"])
	assert.Equal(t, []any{"B"}, summary["congested_sensor_ids"])

	rec = do(t, router, http.MethodGet, "/traffic/api/v1/lights", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var lights []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lights))
	require.Len(t, lights, 1)
}

func TestTrafficAPI_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/traffic/api/v1/sensor"},
		{http.MethodDelete, "/traffic/api/v1/sensor/J1"},
		{http.MethodGet, "/traffic/api/v1/light"},
		{http.MethodPut, "/traffic/api/v1/light/J1"},
		{http.MethodGet, "/traffic/api/v1/incident"},
		{http.MethodPost, "/traffic/api/v1/incidents"},
		{http.MethodPost, "/health"},
	}
	for _, tt := range tests {
		rec := do(t, router, tt.method, tt.path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tt.method, tt.path)
		assert.NotEmpty(t, rec.Header().Get("Allow"))
	}
}

func TestTrafficAPI_UnknownPaths(t *testing.T) {
	router := newTestRouter(t, nil)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/traffic/api/v1/sensor/a/b", "").Code)
}

func TestTrafficAPI_TimestampsWithoutZone(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := do(t, router, http.MethodPost, "/traffic/api/v1/sensor",
		`{"sensor_id":"J5","vehicle_count":12,"timestamp":"2024-01-01T10:00:00"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reading := decode(t, do(t, router, http.MethodGet, "/traffic/api/v1/sensor/J5", ""))
	assert.Equal(t, "2024-01-01T10:00:00Z", reading["timestamp"])

	rec = do(t, router, http.MethodPost, "/traffic/api/v1/incident",
		`{"location":"X","incident_type":"fire","severity":3,"reported_at":"2024-01-01T10:00:00.123456"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-01-01T10:00:00.123456Z", decode(t, rec)["reported_at"])

	rec = do(t, router, http.MethodPost, "/traffic/api/v1/incident",
		`{"location":"X","incident_type":"fire","severity":3,"reported_at":"2024-01-01T10:00:00+05:30"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-01-01T04:30:00Z", decode(t, rec)["reported_at"])

	rec = do(t, router, http.MethodPost, "/traffic/api/v1/sensor",
		`{"sensor_id":"J5","vehicle_count":12,"timestamp":"yesterday"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTrafficAPI_EmptyIncidentText(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := do(t, router, http.MethodPost, "/traffic/api/v1/incident", `{"location":"","incident_type":"","severity":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["incident_id"])
}

func TestTrafficAPI_EscapedSlashInID(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := do(t, router, http.MethodPost, "/traffic/api/v1/sensor", `{"sensor_id":"cam/north","vehicle_count":4}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, router, http.MethodGet, "/traffic/api/v1/sensor/cam%2Fnorth", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cam/north", decode(t, rec)["sensor_id"])

	rec = do(t, router, http.MethodPost, "/traffic/api/v1/light", `{"junction_id":"J 1/A","green_duration_sec":20}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/traffic/api/v1/light/J%201%2FA", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "J 1/A", decode(t, rec)["junction_id"])
}

func TestRouter_RequestID(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := do(t, router, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, decode(t, rec)["message"])

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

type fakeVision struct{}

func (fakeVision) State() consumer.State { return consumer.StateSubscribed }
func (fakeVision) Stats() consumer.Stats { return consumer.Stats{Received: 3, Published: 2} }

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(t, nil), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"state": "DISABLED"}, body["vision"])

	rec = do(t, newTestRouter(t, fakeVision{}), http.MethodGet, "/health", "")
	vision := decode(t, rec)["vision"].(map[string]any)
	assert.Equal(t, "SUBSCRIBED", vision["state"])
	assert.Equal(t, float64(2), vision["stats"].(map[string]any)["published"])
}

func TestExportIncidents(t *testing.T) {
	router := newTestRouter(t, nil)
	do(t, router, http.MethodPost, "/traffic/api/v1/incident",
		`{"location":"MG Road","incident_type":"accident","severity":4,"reported_at":"2026-03-01T08:30:00Z"}`)
	do(t, router, http.MethodPost, "/traffic/api/v1/incident",
		`{"location":"Ring Rd","incident_type":"breakdown","severity":2,"description":"lane 2 blocked","reported_at":"2026-03-01T09:00:00Z"}`)

	rec := do(t, router, http.MethodGet, "/traffic/api/v1/incidents/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(incidentSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, IncidentExportHeader, rows[0])
	assert.Equal(t, []string{"1", "MG Road", "accident", "4", "", "2026-03-01T08:30:00Z"}, rows[1])
	assert.Equal(t, []string{"2", "Ring Rd", "breakdown", "2", "lane 2 blocked", "2026-03-01T09:00:00Z"}, rows[2])
}
