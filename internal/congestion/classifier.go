// Package congestion turns a sensor reading into a congested / free-flowing verdict.
package congestion

import "github.com/CALEB-creator15/sih-backend-project/internal/models"

// Thresholds policy cutoffs. Both checks are strict (>).
type Thresholds struct {
	VehicleCount int     `yaml:"vehicle_count"`
	Density      float64 `yaml:"density"`
}

var DefaultThresholds = Thresholds{
	VehicleCount: 50,
	Density:      0.8,
}

type Classifier struct {
	thresholds Thresholds
}

func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify reports congestion when the vehicle count or the density exceeds its
// threshold. A missing density never triggers.
func (c *Classifier) Classify(r models.SensorReading) bool {
	if r.VehicleCount > c.thresholds.VehicleCount {
		return true
	}
	return r.Density != nil && *r.Density > c.thresholds.Density
}

// Classify uses DefaultThresholds.
func Classify(r models.SensorReading) bool {
	return NewClassifier(DefaultThresholds).Classify(r)
}
