// Package detector defines the object-detection contract used by the vision
// pipeline and an HTTP inference backend for it.
package detector

import (
	"context"
	"image"
)

// Detection one detected object instance.
type Detection struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Detector runs object detection over a whole image. Implementations must be
// safe for use by one goroutine at a time; the pipeline never calls Detect
// concurrently.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Func adapts a plain function to Detector.
type Func func(ctx context.Context, img image.Image) ([]Detection, error)

func (f Func) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	return f(ctx, img)
}
