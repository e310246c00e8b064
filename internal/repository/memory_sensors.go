package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/CALEB-creator15/sih-backend-project/internal/models"
)

// MemorySensorRepo latest reading per sensor id; process lifetime only.
// Stored records are copied in and out so callers can't mutate them.
type MemorySensorRepo struct {
	mu       sync.RWMutex
	readings map[string]models.SensorReading
}

func NewMemorySensorRepo() *MemorySensorRepo {
	return &MemorySensorRepo{
		readings: map[string]models.SensorReading{},
	}
}

// Upsert replaces any previous reading for the same sensor id.
func (r *MemorySensorRepo) Upsert(_ context.Context, reading models.SensorReading) (models.SensorReading, error) {
	stored := cloneReading(reading)

	r.mu.Lock()
	r.readings[stored.SensorID] = stored
	r.mu.Unlock()

	return cloneReading(stored), nil
}

func (r *MemorySensorRepo) Get(_ context.Context, sensorID string) (models.SensorReading, error) {
	r.mu.RLock()
	reading, ok := r.readings[sensorID]
	r.mu.RUnlock()

	if !ok {
		return models.SensorReading{}, fmt.Errorf("sensor %q: %w", sensorID, models.ErrNotFound)
	}
	return cloneReading(reading), nil
}

// List snapshot sorted by sensor id.
func (r *MemorySensorRepo) List(_ context.Context) ([]models.SensorReading, error) {
	r.mu.RLock()
	out := make([]models.SensorReading, 0, len(r.readings))
	for _, reading := range r.readings {
		out = append(out, cloneReading(reading))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

func cloneReading(in models.SensorReading) models.SensorReading {
	out := in
	if in.AvgSpeedKmph != nil {
		v := *in.AvgSpeedKmph
		out.AvgSpeedKmph = &v
	}
	if in.Density != nil {
		v := *in.Density
		out.Density = &v
	}
	if in.Timestamp != nil {
		v := *in.Timestamp
		out.Timestamp = &v
	}
	return out
}
