package httpapi

import (
	"net/http"

	"github.com/CALEB-creator15/sih-backend-project/internal/consumer"
)

// VisionMonitor read-only view of the detection pipeline (see consumer.FrameConsumer)
type VisionMonitor interface {
	State() consumer.State
	Stats() consumer.Stats
}

type SystemHandler struct {
	vision VisionMonitor
}

// NewSystemHandler vision may be nil when the pipeline is disabled.
func NewSystemHandler(vision VisionMonitor) *SystemHandler {
	return &SystemHandler{vision: vision}
}

func (s *SystemHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Intelligent Traffic Management System backend is running",
	})
}

type visionHealth struct {
	State string          `json:"state"`
	Stats *consumer.Stats `json:"stats,omitempty"`
}

// Health always answers 200; a disconnected pipeline is reported, not fatal.
func (s *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	vision := visionHealth{State: "DISABLED"}
	if s.vision != nil {
		stats := s.vision.Stats()
		vision = visionHealth{State: s.vision.State().String(), Stats: &stats}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"vision": vision,
	})
}
