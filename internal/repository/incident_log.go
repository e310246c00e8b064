package repository

import (
	"context"
	"sync"

	"github.com/CALEB-creator15/sih-backend-project/internal/models"
)

// IncidentLog append-only, insertion-ordered incident record.
// IDs come from a counter guarded by the same lock as the slice, so concurrent
// appends get unique, strictly increasing ids starting at 1.
type IncidentLog struct {
	mu        sync.Mutex
	incidents []models.Incident
	lastID    int64
}

func NewIncidentLog() *IncidentLog {
	return &IncidentLog{}
}

// Append assigns the next id and stores the incident. Callers validate first;
// the log itself never rejects.
func (l *IncidentLog) Append(_ context.Context, incident models.Incident) (models.Incident, error) {
	if incident.Description != nil {
		d := *incident.Description
		incident.Description = &d
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastID++
	incident.ID = l.lastID
	l.incidents = append(l.incidents, incident)
	return incident, nil
}

// List snapshot in insertion order.
func (l *IncidentLog) List(_ context.Context) ([]models.Incident, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Incident, len(l.incidents))
	for i, inc := range l.incidents {
		if inc.Description != nil {
			d := *inc.Description
			inc.Description = &d
		}
		out[i] = inc
	}
	return out, nil
}
