package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	mqttcommon "github.com/CALEB-creator15/sih-backend-project/common/mqtt"
	"github.com/CALEB-creator15/sih-backend-project/internal/config"
	"github.com/CALEB-creator15/sih-backend-project/internal/detector"
	"github.com/CALEB-creator15/sih-backend-project/internal/models"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Broker is the subset of the MQTT client the pipeline uses.
type Broker interface {
	OnConnectionChange(l mqttcommon.ConnectionListener)
	Connect(ctx context.Context) error
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Unsubscribe(topics ...string) error
	Disconnect()
}

// backlogReporter is implemented by brokers that buffer deliveries.
type backlogReporter interface {
	Backlog(topic string) int
}

// Ingestor receives vehicle counts derived from detections.
type Ingestor interface {
	IngestSensorReading(ctx context.Context, r models.SensorReading) (models.SensorReading, bool, error)
}

type State int32

const (
	StateDisconnected State = iota
	StateSubscribed
)

func (s State) String() string {
	if s == StateSubscribed {
		return "SUBSCRIBED"
	}
	return "DISCONNECTED"
}

// BrokerConnectionError the broker was unreachable or refused the subscription
// at startup.
type BrokerConnectionError struct {
	Topic string
	Err   error
}

func (e *BrokerConnectionError) Error() string {
	return fmt.Sprintf("broker connection failed (topic %s): %v", e.Topic, e.Err)
}

func (e *BrokerConnectionError) Unwrap() error { return e.Err }

var errStopping = errors.New("frame consumer is stopping")

// Stats counters since start
type Stats struct {
	Received      uint64 `json:"received"`
	DecodeFailed  uint64 `json:"decode_failed"`
	DetectFailed  uint64 `json:"detect_failed"`
	Published     uint64 `json:"published"`
	PublishFailed uint64 `json:"publish_failed"`
	Ingested      uint64 `json:"ingested"`
	// frames held by the MQTT client waiting for queue space
	Backlog       int    `json:"backlog"`
}

type frame struct {
	topic      string
	payload    []byte
	receivedAt time.Time
}

// FrameConsumer subscribes to the camera topic, runs detection on every frame
// and publishes the label -> count summary. Frames are handed from the MQTT
// handler to a single worker through a bounded queue; when the queue is full
// the handler blocks and later frames wait, in order, in the client's inbox.
// Nothing is dropped and output order follows arrival order. The handler runs
// off the client's network loop, so the worker's own publish acknowledgements
// keep flowing while it blocks.
type FrameConsumer struct {
	config   config.VisionConfig
	broker   Broker
	detector detector.Detector
	ingestor Ingestor
	logger   *zap.Logger

	state      atomic.Int32
	subscribed atomic.Bool

	frames     chan frame
	stopping   chan struct{}
	workerDone chan struct{}
	cancelWork context.CancelFunc
	startOnce  sync.Once
	stopOnce   sync.Once

	received      atomic.Uint64
	decodeFailed  atomic.Uint64
	detectFailed  atomic.Uint64
	published     atomic.Uint64
	publishFailed atomic.Uint64
	ingested      atomic.Uint64
}

// NewFrameConsumer ingestor may be nil.
func NewFrameConsumer(
	cfg config.VisionConfig,
	broker Broker,
	det detector.Detector,
	ingestor Ingestor,
	logger *zap.Logger,
) *FrameConsumer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	return &FrameConsumer{
		config:     cfg,
		broker:     broker,
		detector:   det,
		ingestor:   ingestor,
		logger:     logger,
		frames:     make(chan frame, cfg.QueueSize),
		stopping:   make(chan struct{}),
		workerDone: make(chan struct{}),
	}
}

// Start connects, subscribes to the input topic and starts the worker. It
// returns once the subscription is active.
func (c *FrameConsumer) Start(ctx context.Context) error {
	err := errors.New("frame consumer already started")
	c.startOnce.Do(func() {
		err = c.start(ctx)
	})
	return err
}

func (c *FrameConsumer) start(ctx context.Context) error {
	c.broker.OnConnectionChange(c.onConnectionChange)

	if err := c.broker.Connect(ctx); err != nil {
		return &BrokerConnectionError{Topic: c.config.Topics.Input, Err: err}
	}

	// worker outlives ctx so in-flight frames can finish during Stop
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go c.run(workCtx)

	if err := c.broker.Subscribe(c.config.Topics.Input, c.config.QoS, c.handleMessage); err != nil {
		close(c.stopping)
		cancel()
		c.broker.Disconnect()
		return &BrokerConnectionError{Topic: c.config.Topics.Input, Err: err}
	}
	c.cancelWork = cancel
	c.subscribed.Store(true)
	c.state.Store(int32(StateSubscribed))

	c.logger.Info("Frame consumer started",
		zap.String("input_topic", c.config.Topics.Input),
		zap.String("output_topic", c.config.Topics.Output),
		zap.Int("inference_size", c.config.InferenceSize),
		zap.Int("queue_size", cap(c.frames)),
	)
	return nil
}

// Stop unsubscribes, lets the frame being processed finish within the
// shutdown grace period (or until ctx is done), then disconnects. Queued
// frames that have not started are discarded.
func (c *FrameConsumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		if c.cancelWork == nil {
			// never started
			return
		}
		c.subscribed.Store(false)
		close(c.stopping)
		c.state.Store(int32(StateDisconnected))

		if err := c.broker.Unsubscribe(c.config.Topics.Input); err != nil {
			c.logger.Error("Failed to unsubscribe", zap.Error(err))
		}

		var grace <-chan time.Time
		if c.config.ShutdownGrace > 0 {
			timer := time.NewTimer(c.config.ShutdownGrace)
			defer timer.Stop()
			grace = timer.C
		}

		select {
		case <-c.workerDone:
		case <-grace:
			c.logger.Warn("Shutdown grace elapsed, abandoning in-flight inference")
		case <-ctx.Done():
			c.logger.Warn("Shutdown deadline reached, abandoning in-flight inference")
		}
		c.cancelWork()

		c.broker.Disconnect()
		c.state.Store(int32(StateDisconnected))

		stats := c.Stats()
		c.logger.Info("Frame consumer stopped",
			zap.Uint64("received", stats.Received),
			zap.Uint64("published", stats.Published),
		)
	})
	return nil
}

func (c *FrameConsumer) State() State {
	return State(c.state.Load())
}

func (c *FrameConsumer) Stats() Stats {
	var backlog int
	if b, ok := c.broker.(backlogReporter); ok {
		backlog = b.Backlog(c.config.Topics.Input)
	}
	return Stats{
		Backlog:       backlog,
		Received:      c.received.Load(),
		DecodeFailed:  c.decodeFailed.Load(),
		DetectFailed:  c.detectFailed.Load(),
		Published:     c.published.Load(),
		PublishFailed: c.publishFailed.Load(),
		Ingested:      c.ingested.Load(),
	}
}

// onConnectionChange runs after every (re)connect, with subscriptions already
// restored, and on connection loss.
func (c *FrameConsumer) onConnectionChange(connected bool, err error) {
	if connected && c.subscribed.Load() {
		c.state.Store(int32(StateSubscribed))
		return
	}
	if !connected {
		c.state.Store(int32(StateDisconnected))
		if err != nil {
			c.logger.Warn("Frame consumer disconnected", zap.Error(err))
		}
	}
}

// handleMessage only enqueues; it blocks while the queue is full.
func (c *FrameConsumer) handleMessage(topic string, payload []byte) error {
	f := frame{topic: topic, payload: payload, receivedAt: time.Now().UTC()}
	select {
	case <-c.stopping:
		return errStopping
	default:
	}
	select {
	case c.frames <- f:
		c.received.Add(1)
		return nil
	case <-c.stopping:
		return errStopping
	}
}

func (c *FrameConsumer) run(ctx context.Context) {
	defer close(c.workerDone)
	for {
		select {
		case <-c.stopping:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-c.stopping:
			return
		case <-ctx.Done():
			return
		case f := <-c.frames:
			c.processFrame(ctx, f)
		}
	}
}

func (c *FrameConsumer) processFrame(ctx context.Context, f frame) {
	img, format, err := decodeFrame(f.payload, c.config.MaxFramePixels)
	if err != nil {
		c.decodeFailed.Add(1)
		c.logger.Warn("Dropping undecodable frame",
			zap.String("topic", f.topic),
			zap.Int("payload_size", len(f.payload)),
			zap.Error(err),
		)
		return
	}

	input := letterbox(img, c.config.InferenceSize)

	detectCtx := ctx
	if c.config.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		detectCtx, cancel = context.WithTimeout(ctx, c.config.InferenceTimeout)
		defer cancel()
	}

	start := time.Now()
	detections, err := c.detect(detectCtx, input)
	if err != nil {
		c.detectFailed.Add(1)
		c.logger.Error("Detection failed",
			zap.String("topic", f.topic),
			zap.String("format", format),
			zap.Error(err),
		)
		return
	}
	if ctx.Err() != nil {
		// abandoned during shutdown
		return
	}

	result := Aggregate(detections)
	payload, err := json.Marshal(result)
	if err != nil {
		c.publishFailed.Add(1)
		c.logger.Error("Failed to marshal detection result", zap.Error(err))
		return
	}

	if err := c.broker.Publish(c.config.Topics.Output, c.config.QoS, false, payload); err != nil {
		c.publishFailed.Add(1)
		c.logger.Error("Failed to publish detection result",
			zap.String("topic", c.config.Topics.Output),
			zap.Error(err),
		)
	} else {
		c.published.Add(1)
		c.logger.Info("Published detection result",
			zap.String("topic", c.config.Topics.Output),
			zap.Any("objects", result),
			zap.Duration("latency", time.Since(start)),
		)
	}

	c.ingest(ctx, f, result)
}

// detect converts a detector panic into an error so one bad frame cannot take
// the worker down.
func (c *FrameConsumer) detect(ctx context.Context, img image.Image) (detections []detector.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	return c.detector.Detect(ctx, img)
}

func (c *FrameConsumer) ingest(ctx context.Context, f frame, result models.DetectionResult) {
	if c.ingestor == nil {
		return
	}
	observedAt := f.receivedAt
	reading := models.SensorReading{
		SensorID:     c.config.SensorID,
		VehicleCount: result.Total(c.config.VehicleLabels...),
		Timestamp:    &observedAt,
		Source:       models.SourceVision,
	}
	if _, _, err := c.ingestor.IngestSensorReading(ctx, reading); err != nil {
		c.logger.Warn("Failed to ingest vision reading",
			zap.String("sensor_id", reading.SensorID),
			zap.Error(err),
		)
		return
	}
	c.ingested.Add(1)
}

// Aggregate counts detections per label; no detections gives an empty result.
func Aggregate(detections []detector.Detection) models.DetectionResult {
	labels := lo.Map(detections, func(d detector.Detection, _ int) string { return d.Label })
	return models.DetectionResult(lo.CountValues(labels))
}
