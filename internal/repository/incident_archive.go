package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/CALEB-creator15/sih-backend-project/internal/models"

	"go.uber.org/zap"
)

// IncidentArchive copies accepted incidents into Postgres for later analysis.
// The in-memory IncidentLog stays authoritative; incident ids restart with
// every process, so rows are keyed by (run_id, incident_id).
type IncidentArchive struct {
	db     *sql.DB
	runID  string
	logger *zap.Logger
}

func NewIncidentArchive(db *sql.DB, runID string, logger *zap.Logger) *IncidentArchive {
	return &IncidentArchive{
		db:     db,
		runID:  runID,
		logger: logger,
	}
}

const createIncidentTable = `
	CREATE TABLE IF NOT EXISTS traffic_incidents (
		run_id        UUID        NOT NULL,
		incident_id   BIGINT      NOT NULL,
		location      TEXT        NOT NULL,
		incident_type TEXT        NOT NULL,
		severity      SMALLINT    NOT NULL CHECK (severity BETWEEN 1 AND 5),
		description   TEXT,
		reported_at   TIMESTAMPTZ NOT NULL,
		archived_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (run_id, incident_id)
	)
`

// EnsureSchema creates traffic_incidents if it does not exist.
func (a *IncidentArchive) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, createIncidentTable); err != nil {
		return fmt.Errorf("failed to create traffic_incidents: %w", err)
	}
	return nil
}

// Archive inserts one incident. Duplicate (run_id, incident_id) rows are ignored.
func (a *IncidentArchive) Archive(ctx context.Context, incident models.Incident) error {
	query := `
		INSERT INTO traffic_incidents (
			run_id,
			incident_id,
			location,
			incident_type,
			severity,
			description,
			reported_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (run_id, incident_id) DO NOTHING
	`

	var description sql.NullString
	if incident.Description != nil {
		description = sql.NullString{String: *incident.Description, Valid: true}
	}

	_, err := a.db.ExecContext(ctx,
		query,
		a.runID,
		incident.ID,
		incident.Location,
		incident.IncidentType,
		incident.Severity,
		description,
		incident.ReportedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive incident %d: %w", incident.ID, err)
	}

	a.logger.Debug("Archived incident",
		zap.String("run_id", a.runID),
		zap.Int64("incident_id", incident.ID),
	)
	return nil
}
