package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/CALEB-creator15/sih-backend-project/internal/models"
	"github.com/CALEB-creator15/sih-backend-project/internal/service"

	"go.uber.org/zap"
)

// TrafficHandler sensor ingestion, light control and incident endpoints
type TrafficHandler struct {
	traffic   *service.TrafficService
	signals   *service.SignalService
	incidents *service.IncidentService
	logger    *zap.Logger
	now       func() time.Time
}

func NewTrafficHandler(
	traffic *service.TrafficService,
	signals *service.SignalService,
	incidents *service.IncidentService,
	logger *zap.Logger,
) *TrafficHandler {
	return &TrafficHandler{
		traffic:   traffic,
		signals:   signals,
		incidents: incidents,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// request bodies use pointers so a missing required field is distinguishable
// from its zero value
type sensorRequest struct {
	SensorID     *string    `json:"sensor_id"`
	VehicleCount *int       `json:"vehicle_count"`
	AvgSpeedKmph *float64   `json:"avg_speed_kmph"`
	Density      *float64   `json:"density"`
	Timestamp    *timestamp `json:"timestamp"`
}

type sensorResponse struct {
	Status     string    `json:"status"`
	SensorID   string    `json:"sensor_id"`
	Congestion bool      `json:"congestion"`
	StoredAt   time.Time `json:"stored_at"`
}

type lightRequest struct {
	JunctionID       *string `json:"junction_id"`
	GreenDurationSec *int    `json:"green_duration_sec"`
	AmberDurationSec *int    `json:"amber_duration_sec"`
	RedDurationSec   *int    `json:"red_duration_sec"`
}

type lightResponse struct {
	Status           string    `json:"status"`
	JunctionID       string    `json:"junction_id"`
	GreenDurationSec int       `json:"green_duration_sec"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type incidentRequest struct {
	Location     *string    `json:"location"`
	IncidentType *string    `json:"incident_type"`
	Severity     *int       `json:"severity"`
	Description  *string    `json:"description"`
	ReportedAt   *timestamp `json:"reported_at"`
}

type incidentResponse struct {
	Status     string    `json:"status"`
	IncidentID int64     `json:"incident_id"`
	ReportedAt time.Time `json:"reported_at"`
}

func requireField[T any](v *T, name string) error {
	if v == nil {
		return models.NewValidationError(name, "is required")
	}
	return nil
}

func (h *TrafficHandler) PostSensor(w http.ResponseWriter, r *http.Request) {
	var req sensorRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField(req.SensorID, "sensor_id"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField(req.VehicleCount, "vehicle_count"); err != nil {
		writeError(w, h.logger, err)
		return
	}

	stored, congested, err := h.traffic.IngestSensorReading(r.Context(), models.SensorReading{
		SensorID:     *req.SensorID,
		VehicleCount: *req.VehicleCount,
		AvgSpeedKmph: req.AvgSpeedKmph,
		Density:      req.Density,
		Timestamp:    req.Timestamp.timePtr(),
		Source:       models.SourceSensor,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, sensorResponse{
		Status:     "received",
		SensorID:   stored.SensorID,
		Congestion: congested,
		StoredAt:   stored.ReceivedAt,
	})
}

func (h *TrafficHandler) GetSensor(w http.ResponseWriter, r *http.Request, sensorID string) {
	reading, err := h.traffic.GetSensorReading(r.Context(), sensorID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (h *TrafficHandler) ListSensors(w http.ResponseWriter, r *http.Request) {
	readings, err := h.traffic.ListSensorReadings(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

func (h *TrafficHandler) Congestion(w http.ResponseWriter, r *http.Request) {
	summary, err := h.traffic.CongestionSummary(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *TrafficHandler) PostLight(w http.ResponseWriter, r *http.Request) {
	var req lightRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField(req.JunctionID, "junction_id"); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField(req.GreenDurationSec, "green_duration_sec"); err != nil {
		writeError(w, h.logger, err)
		return
	}

	state, err := h.signals.SetLightControl(r.Context(), service.LightControlInput{
		JunctionID:       *req.JunctionID,
		GreenDurationSec: *req.GreenDurationSec,
		AmberDurationSec: req.AmberDurationSec,
		RedDurationSec:   req.RedDurationSec,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, lightResponse{
		Status:           "updated",
		JunctionID:       state.JunctionID,
		GreenDurationSec: state.GreenDurationSec,
		UpdatedAt:        state.UpdatedAt,
	})
}

func (h *TrafficHandler) GetLight(w http.ResponseWriter, r *http.Request, junctionID string) {
	state, err := h.signals.GetLightControl(r.Context(), junctionID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *TrafficHandler) ListLights(w http.ResponseWriter, r *http.Request) {
	states, err := h.signals.ListLightControls(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *TrafficHandler) PostIncident(w http.ResponseWriter, r *http.Request) {
	var req incidentRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	for _, f := range []struct {
		v    *string
		name string
	}{{req.Location, "location"}, {req.IncidentType, "incident_type"}} {
		if err := requireField(f.v, f.name); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	if err := requireField(req.Severity, "severity"); err != nil {
		writeError(w, h.logger, err)
		return
	}

	incident, err := h.incidents.Report(r.Context(), service.IncidentInput{
		Location:     *req.Location,
		IncidentType: *req.IncidentType,
		Severity:     *req.Severity,
		Description:  req.Description,
		ReportedAt:   req.ReportedAt.timePtr(),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, incidentResponse{
		Status:     "reported",
		IncidentID: incident.ID,
		ReportedAt: incident.ReportedAt,
	})
}

func (h *TrafficHandler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.incidents.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

// ExportIncidents streams the incident log as an XLSX workbook.
func (h *TrafficHandler) ExportIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.incidents.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	data, err := GenerateIncidentExport(incidents)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	filename := fmt.Sprintf("incidents_%s.xlsx", h.now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
