package models

import "time"

const (
	SourceSensor = "sensor"
	SourceVision = "vision"
)

// SensorReading latest observation for one sensor (physical or vision-derived)
type SensorReading struct {
	SensorID     string     `json:"sensor_id"`
	VehicleCount int        `json:"vehicle_count"`
	AvgSpeedKmph *float64   `json:"avg_speed_kmph"`
	Density      *float64   `json:"density"`
	Timestamp    *time.Time `json:"timestamp"`   // observation time, defaults to ReceivedAt
	ReceivedAt   time.Time  `json:"received_at"` // stamped by the store
	Source       string     `json:"source"`
}

// LightControlState recorded signal timing for one junction
type LightControlState struct {
	JunctionID       string    `json:"junction_id"`
	GreenDurationSec int       `json:"green_duration_sec"`
	AmberDurationSec int       `json:"amber_duration_sec"`
	RedDurationSec   int       `json:"red_duration_sec"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const (
	DefaultAmberDurationSec = 5
	DefaultRedDurationSec   = 30
)

// Incident reported traffic incident; ID is assigned by the log
type Incident struct {
	ID           int64     `json:"id"`
	Location     string    `json:"location"`
	IncidentType string    `json:"incident_type"`
	Severity     int       `json:"severity"`
	Description  *string   `json:"description"`
	ReportedAt   time.Time `json:"reported_at"`
}

const (
	MinSeverity = 1
	MaxSeverity = 5
)

// Verdict congestion classification of one ingested reading
type Verdict struct {
	SensorID     string    `json:"sensor_id"`
	Congested    bool      `json:"congested"`
	VehicleCount int       `json:"vehicle_count"`
	Density      *float64  `json:"density,omitempty"`
	Source       string    `json:"source"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// CongestionSummary aggregate over the latest reading of every sensor
type CongestionSummary struct {
	Total     int      `json:"total"`
	Congested int      `json:"congested"`
	SensorIDs []string `json:"congested_sensor_ids"`
}
