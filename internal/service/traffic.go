package service

import (
	"context"
	"strings"
	"time"

	"github.com/CALEB-creator15/sih-backend-project/internal/congestion"
	"github.com/CALEB-creator15/sih-backend-project/internal/models"

	"go.uber.org/zap"
)

// SensorRepository storage for latest readings (see repository.MemorySensorRepo)
type SensorRepository interface {
	Upsert(ctx context.Context, reading models.SensorReading) (models.SensorReading, error)
	Get(ctx context.Context, sensorID string) (models.SensorReading, error)
	List(ctx context.Context) ([]models.SensorReading, error)
}

// VerdictPublisher downstream consumer of congestion verdicts (see store.CongestionFeed)
type VerdictPublisher interface {
	PublishVerdict(ctx context.Context, v models.Verdict) error
}

// TrafficService single ingestion path for physical sensors and the vision pipeline.
type TrafficService struct {
	sensors    SensorRepository
	classifier *congestion.Classifier
	publisher  VerdictPublisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewTrafficService publisher may be nil.
func NewTrafficService(
	sensors SensorRepository,
	classifier *congestion.Classifier,
	publisher VerdictPublisher,
	logger *zap.Logger,
) *TrafficService {
	return &TrafficService{
		sensors:    sensors,
		classifier: classifier,
		publisher:  publisher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// IngestSensorReading validates, stamps and stores the reading, replacing the
// previous one for the same sensor, and returns the stored record with its
// congestion verdict. Rejected readings leave the store untouched.
func (s *TrafficService) IngestSensorReading(ctx context.Context, reading models.SensorReading) (models.SensorReading, bool, error) {
	reading.SensorID = strings.TrimSpace(reading.SensorID)
	if err := validateReading(reading); err != nil {
		return models.SensorReading{}, false, err
	}

	reading.ReceivedAt = s.now()
	if reading.Timestamp == nil {
		ts := reading.ReceivedAt
		reading.Timestamp = &ts
	}
	if reading.Source == "" {
		reading.Source = models.SourceSensor
	}

	stored, err := s.sensors.Upsert(ctx, reading)
	if err != nil {
		return models.SensorReading{}, false, err
	}

	congested := s.classifier.Classify(stored)

	if s.publisher != nil {
		v := models.Verdict{
			SensorID:     stored.SensorID,
			Congested:    congested,
			VehicleCount: stored.VehicleCount,
			Density:      stored.Density,
			Source:       stored.Source,
			EvaluatedAt:  stored.ReceivedAt,
		}
		if err := s.publisher.PublishVerdict(ctx, v); err != nil {
			s.logger.Warn("Failed to publish congestion verdict",
				zap.String("sensor_id", stored.SensorID),
				zap.Error(err),
			)
		}
	}

	s.logger.Debug("Ingested sensor reading",
		zap.String("sensor_id", stored.SensorID),
		zap.String("source", stored.Source),
		zap.Int("vehicle_count", stored.VehicleCount),
		zap.Bool("congestion", congested),
	)

	return stored, congested, nil
}

func validateReading(r models.SensorReading) error {
	if r.SensorID == "" {
		return models.NewValidationError("sensor_id", "must not be empty")
	}
	if r.VehicleCount < 0 {
		return models.NewValidationError("vehicle_count", "must be greater than or equal to 0")
	}
	if r.AvgSpeedKmph != nil && *r.AvgSpeedKmph < 0 {
		return models.NewValidationError("avg_speed_kmph", "must be greater than or equal to 0")
	}
	return nil
}

// GetSensorReading returns models.ErrNotFound for unknown sensors.
func (s *TrafficService) GetSensorReading(ctx context.Context, sensorID string) (models.SensorReading, error) {
	return s.sensors.Get(ctx, sensorID)
}

func (s *TrafficService) ListSensorReadings(ctx context.Context) ([]models.SensorReading, error) {
	return s.sensors.List(ctx)
}

// CongestionSummary re-classifies the latest reading of every sensor.
func (s *TrafficService) CongestionSummary(ctx context.Context) (models.CongestionSummary, error) {
	readings, err := s.sensors.List(ctx)
	if err != nil {
		return models.CongestionSummary{}, err
	}

	summary := models.CongestionSummary{Total: len(readings), SensorIDs: []string{}}
	for _, r := range readings {
		if s.classifier.Classify(r) {
			summary.Congested++
			summary.SensorIDs = append(summary.SensorIDs, r.SensorID)
		}
	}
	return summary, nil
}
