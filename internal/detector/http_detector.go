package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/CALEB-creator15/sih-backend-project/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// inference server response body
type inferenceResponse struct {
	Detections []struct {
		Label      string    `json:"label"`
		Confidence float64   `json:"confidence"`
		Box        []float64 `json:"box"` // x1, y1, x2, y2 in input pixels
	} `json:"detections"`
}

// HTTPDetector posts the frame as JPEG to an inference server (e.g. a YOLO
// serving endpoint) and parses its detections.
type HTTPDetector struct {
	client *resty.Client
	config config.DetectorConfig
	logger *zap.Logger
}

func NewHTTPDetector(cfg config.DetectorConfig, logger *zap.Logger) (*HTTPDetector, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("detector endpoint is required")
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}

	client := resty.New().
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &HTTPDetector{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: d.config.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	var result inferenceResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "image/jpeg").
		SetBody(buf.Bytes()).
		SetResult(&result).
		Post(d.config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("inference server returned %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	detections := make([]Detection, 0, len(result.Detections))
	for _, det := range result.Detections {
		if det.Label == "" || det.Confidence < d.config.MinConfidence {
			continue
		}
		var box image.Rectangle
		if len(det.Box) == 4 {
			box = image.Rect(int(det.Box[0]), int(det.Box[1]), int(det.Box[2]), int(det.Box[3]))
		}
		detections = append(detections, Detection{
			Label:      det.Label,
			Confidence: det.Confidence,
			Box:        box,
		})
	}

	d.logger.Debug("Inference completed",
		zap.Int("raw_detections", len(result.Detections)),
		zap.Int("kept_detections", len(detections)),
		zap.Duration("latency", resp.Time()),
	)
	return detections, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
