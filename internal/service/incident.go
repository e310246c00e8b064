package service

import (
	"context"
	"time"

	"github.com/CALEB-creator15/sih-backend-project/internal/models"

	"go.uber.org/zap"
)

type IncidentRepository interface {
	Append(ctx context.Context, incident models.Incident) (models.Incident, error)
	List(ctx context.Context) ([]models.Incident, error)
}

// IncidentArchiver optional secondary copy (see repository.IncidentArchive)
type IncidentArchiver interface {
	Archive(ctx context.Context, incident models.Incident) error
}

type IncidentInput struct {
	Location     string
	IncidentType string
	Severity     int
	Description  *string
	ReportedAt   *time.Time
}

const archiveTimeout = 2 * time.Second

type IncidentService struct {
	log      IncidentRepository
	archiver IncidentArchiver
	logger   *zap.Logger
	now      func() time.Time
}

// NewIncidentService archiver may be nil.
func NewIncidentService(log IncidentRepository, archiver IncidentArchiver, logger *zap.Logger) *IncidentService {
	return &IncidentService{
		log:      log,
		archiver: archiver,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Report validates before touching the log, so a rejected report never
// consumes an id.
func (s *IncidentService) Report(ctx context.Context, in IncidentInput) (models.Incident, error) {
	incident := models.Incident{
		Location:     in.Location,
		IncidentType: in.IncidentType,
		Severity:     in.Severity,
		Description:  in.Description,
	}
	// location and incident_type are free text; only severity is range checked
	if in.Severity < models.MinSeverity || in.Severity > models.MaxSeverity {
		return models.Incident{}, models.NewValidationError("severity", "must be between 1 and 5")
	}

	if in.ReportedAt != nil {
		incident.ReportedAt = in.ReportedAt.UTC()
	} else {
		incident.ReportedAt = s.now()
	}

	stored, err := s.log.Append(ctx, incident)
	if err != nil {
		return models.Incident{}, err
	}

	s.logger.Info("Incident reported",
		zap.Int64("incident_id", stored.ID),
		zap.String("location", stored.Location),
		zap.String("incident_type", stored.IncidentType),
		zap.Int("severity", stored.Severity),
	)

	if s.archiver != nil {
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		if err := s.archiver.Archive(archiveCtx, stored); err != nil {
			s.logger.Warn("Failed to archive incident", zap.Int64("incident_id", stored.ID), zap.Error(err))
		}
		cancel()
	}

	return stored, nil
}

func (s *IncidentService) List(ctx context.Context) ([]models.Incident, error) {
	return s.log.List(ctx)
}
