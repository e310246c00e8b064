package service

import (
	"context"
	"strings"
	"time"

	"github.com/CALEB-creator15/sih-backend-project/internal/models"

	"go.uber.org/zap"
)

type LightRepository interface {
	Upsert(ctx context.Context, state models.LightControlState) (models.LightControlState, error)
	Get(ctx context.Context, junctionID string) (models.LightControlState, error)
	List(ctx context.Context) ([]models.LightControlState, error)
}

// LightControlInput requested timing; nil amber/red fall back to the defaults.
type LightControlInput struct {
	JunctionID       string
	GreenDurationSec int
	AmberDurationSec *int
	RedDurationSec   *int
}

// SignalService records desired per-junction timings. It does not compute or
// actuate anything.
type SignalService struct {
	lights LightRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewSignalService(lights LightRepository, logger *zap.Logger) *SignalService {
	return &SignalService{
		lights: lights,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *SignalService) SetLightControl(ctx context.Context, in LightControlInput) (models.LightControlState, error) {
	state := models.LightControlState{
		JunctionID:       strings.TrimSpace(in.JunctionID),
		GreenDurationSec: in.GreenDurationSec,
		AmberDurationSec: models.DefaultAmberDurationSec,
		RedDurationSec:   models.DefaultRedDurationSec,
	}
	if in.AmberDurationSec != nil {
		state.AmberDurationSec = *in.AmberDurationSec
	}
	if in.RedDurationSec != nil {
		state.RedDurationSec = *in.RedDurationSec
	}

	if state.JunctionID == "" {
		return models.LightControlState{}, models.NewValidationError("junction_id", "must not be empty")
	}
	for _, d := range []struct {
		field string
		value int
	}{
		{"green_duration_sec", state.GreenDurationSec},
		{"amber_duration_sec", state.AmberDurationSec},
		{"red_duration_sec", state.RedDurationSec},
	} {
		if d.value < 0 {
			return models.LightControlState{}, models.NewValidationError(d.field, "must be greater than or equal to 0")
		}
	}

	state.UpdatedAt = s.now()
	stored, err := s.lights.Upsert(ctx, state)
	if err != nil {
		return models.LightControlState{}, err
	}

	s.logger.Info("Light control updated",
		zap.String("junction_id", stored.JunctionID),
		zap.Int("green_sec", stored.GreenDurationSec),
		zap.Int("amber_sec", stored.AmberDurationSec),
		zap.Int("red_sec", stored.RedDurationSec),
	)
	return stored, nil
}

func (s *SignalService) GetLightControl(ctx context.Context, junctionID string) (models.LightControlState, error) {
	return s.lights.Get(ctx, junctionID)
}

func (s *SignalService) ListLightControls(ctx context.Context) ([]models.LightControlState, error) {
	return s.lights.List(ctx)
}
