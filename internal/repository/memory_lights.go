package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/CALEB-creator15/sih-backend-project/internal/models"
)

// MemoryLightRepo one light control state per junction, last write wins.
type MemoryLightRepo struct {
	mu     sync.RWMutex
	lights map[string]models.LightControlState
}

func NewMemoryLightRepo() *MemoryLightRepo {
	return &MemoryLightRepo{
		lights: map[string]models.LightControlState{},
	}
}

func (r *MemoryLightRepo) Upsert(_ context.Context, state models.LightControlState) (models.LightControlState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lights[state.JunctionID] = state
	return state, nil
}

func (r *MemoryLightRepo) Get(_ context.Context, junctionID string) (models.LightControlState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.lights[junctionID]
	if !ok {
		return models.LightControlState{}, fmt.Errorf("junction %q: %w", junctionID, models.ErrNotFound)
	}
	return state, nil
}

func (r *MemoryLightRepo) List(_ context.Context) ([]models.LightControlState, error) {
	r.mu.RLock()
	out := make([]models.LightControlState, 0, len(r.lights))
	for _, s := range r.lights {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JunctionID < out[j].JunctionID })
	return out, nil
}
