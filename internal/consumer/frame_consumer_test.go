package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqttcommon "github.com/CALEB-creator15/sih-backend-project/common/mqtt"
	"github.com/CALEB-creator15/sih-backend-project/internal/config"
	"github.com/CALEB-creator15/sih-backend-project/internal/detector"
	"github.com/CALEB-creator15/sih-backend-project/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type publishedMsg struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeBroker struct {
	mu           sync.Mutex
	handler      mqttcommon.MessageHandler
	listener     mqttcommon.ConnectionListener
	connectErr   error
	subscribeErr error
	unsubscribed []string
	disconnected bool

	published chan publishedMsg
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{published: make(chan publishedMsg, 32)}
}

func (b *fakeBroker) OnConnectionChange(l mqttcommon.ConnectionListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = l
}

func (b *fakeBroker) Connect(ctx context.Context) error {
	return b.connectErr
}

func (b *fakeBroker) Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error {
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	b.published <- publishedMsg{topic: topic, qos: qos, payload: payload}
	return nil
}

func (b *fakeBroker) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribed = append(b.unsubscribed, topics...)
	return nil
}

func (b *fakeBroker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = true
}

func (b *fakeBroker) deliver(t *testing.T, payload []byte) error {
	t.Helper()
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	require.NotNil(t, h, "not subscribed")
	return h("carla/camera_feed", payload)
}

func (b *fakeBroker) setConnected(connected bool, err error) {
	b.mu.Lock()
	l := b.listener
	b.mu.Unlock()
	l(connected, err)
}

func (b *fakeBroker) isDisconnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnected
}

func (b *fakeBroker) next(t *testing.T) publishedMsg {
	t.Helper()
	select {
	case msg := <-b.published:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
		return publishedMsg{}
	}
}

func (b *fakeBroker) assertNoPublish(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-b.published:
		t.Fatalf("unexpected publish: %s", msg.payload)
	case <-time.After(wait):
	}
}

type fakeIngestor struct {
	mu       sync.Mutex
	readings []models.SensorReading
}

func (f *fakeIngestor) IngestSensorReading(ctx context.Context, r models.SensorReading) (models.SensorReading, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, r)
	return r, false, nil
}

func (f *fakeIngestor) all() []models.SensorReading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SensorReading(nil), f.readings...)
}

func testVisionConfig() config.VisionConfig {
	var cfg config.VisionConfig
	cfg.Enabled = true
	cfg.Topics.Input = "carla/camera_feed"
	cfg.Topics.Output = "carla/control"
	cfg.QoS = 1
	cfg.InferenceSize = 64
	cfg.InferenceTimeout = time.Second
	cfg.ShutdownGrace = time.Second
	cfg.QueueSize = 4
	cfg.SensorID = "vision:carla"
	cfg.VehicleLabels = []string{"car", "truck", "bus"}
	return cfg
}

func labels(names ...string) []detector.Detection {
	out := make([]detector.Detection, 0, len(names))
	for _, n := range names {
		out = append(out, detector.Detection{Label: n, Confidence: 0.9})
	}
	return out
}

func staticDetector(names ...string) detector.Detector {
	return detector.Func(func(ctx context.Context, img image.Image) ([]detector.Detection, error) {
		return labels(names...), nil
	})
}

func startConsumer(t *testing.T, cfg config.VisionConfig, det detector.Detector, ingestor Ingestor) (*FrameConsumer, *fakeBroker) {
	t.Helper()
	broker := newFakeBroker()
	c := NewFrameConsumer(cfg, broker, det, ingestor, zap.NewNop())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, broker
}

func TestAggregate(t *testing.T) {
	assert.Equal(t, models.DetectionResult{}, Aggregate(nil))
	assert.Equal(t,
		models.DetectionResult{"car": 2, "person": 1},
		Aggregate(labels("car", "person", "car")),
	)
}

func TestFrameConsumer_PublishesLabelCounts(t *testing.T) {
	c, broker := startConsumer(t, testVisionConfig(), staticDetector("car", "car", "person"), nil)
	assert.Equal(t, StateSubscribed, c.State())

	require.NoError(t, broker.deliver(t, encodePNG(t, solidImage(80, 60, color.White))))

	msg := broker.next(t)
	assert.Equal(t, "carla/control", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.JSONEq(t, `{"car":2,"person":1}`, string(msg.payload))

	assert.Eventually(t, func() bool { return c.Stats().Published == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), c.Stats().Received)
}

func TestFrameConsumer_NoDetectionsPublishesEmptyObject(t *testing.T) {
	_, broker := startConsumer(t, testVisionConfig(), staticDetector(), nil)

	require.NoError(t, broker.deliver(t, encodePNG(t, solidImage(16, 16, color.Black))))

	assert.Equal(t, "{}", string(broker.next(t).payload))
}

func TestFrameConsumer_SkipsUndecodableFrame(t *testing.T) {
	c, broker := startConsumer(t, testVisionConfig(), staticDetector("bus"), nil)

	require.NoError(t, broker.deliver(t, []byte("not an image")))
	require.NoError(t, broker.deliver(t, encodePNG(t, solidImage(16, 16, color.White))))

	// only the valid frame produces output
	assert.JSONEq(t, `{"bus":1}`, string(broker.next(t).payload))
	broker.assertNoPublish(t, 50*time.Millisecond)

	assert.Equal(t, uint64(1), c.Stats().DecodeFailed)
	assert.Equal(t, StateSubscribed, c.State())
}

func TestFrameConsumer_DetectorFailuresAreIsolated(t *testing.T) {
	var calls atomic.Int32
	det := detector.Func(func(ctx context.Context, img image.Image) ([]detector.Detection, error) {
		switch calls.Add(1) {
		case 1:
			return nil, errors.New("model unavailable")
		case 2:
			panic("tensor shape mismatch")
		default:
			return labels("truck"), nil
		}
	})
	c, broker := startConsumer(t, testVisionConfig(), det, nil)

	frame := encodePNG(t, solidImage(16, 16, color.White))
	for i := 0; i < 3; i++ {
		require.NoError(t, broker.deliver(t, frame))
	}

	assert.JSONEq(t, `{"truck":1}`, string(broker.next(t).payload))
	broker.assertNoPublish(t, 50*time.Millisecond)
	assert.Equal(t, uint64(2), c.Stats().DetectFailed)
	assert.Equal(t, StateSubscribed, c.State())
}

func TestFrameConsumer_PreservesArrivalOrder(t *testing.T) {
	cfg := testVisionConfig()
	cfg.InferenceSize = 0
	det := detector.Func(func(ctx context.Context, img image.Image) ([]detector.Detection, error) {
		return make([]detector.Detection, img.Bounds().Dx()), nil
	})
	_, broker := startConsumer(t, cfg, det, nil)

	for w := 1; w <= 5; w++ {
		require.NoError(t, broker.deliver(t, encodePNG(t, solidImage(w, 1, color.White))))
	}

	for w := 1; w <= 5; w++ {
		var got map[string]int
		require.NoError(t, json.Unmarshal(broker.next(t).payload, &got))
		assert.Equal(t, w, got[""])
	}
}

func TestFrameConsumer_BlocksWhenQueueFull(t *testing.T) {
	cfg := testVisionConfig()
	cfg.QueueSize = 1
	release := make(chan struct{})
	det := detector.Func(func(ctx context.Context, img image.Image) ([]detector.Detection, error) {
		<-release
		return labels("car"), nil
	})
	_, broker := startConsumer(t, cfg, det, nil)
	frame := encodePNG(t, solidImage(16, 16, color.White))

	// first frame is picked up by the worker, the second fills the queue
	require.NoError(t, broker.deliver(t, frame))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, broker.deliver(t, frame))

	delivered := make(chan error, 1)
	go func() { delivered <- broker.deliver(t, frame) }()

	select {
	case <-delivered:
		t.Fatal("delivery should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-delivered)
	for i := 0; i < 3; i++ {
		assert.JSONEq(t, `{"car":1}`, string(broker.next(t).payload))
	}
}

func TestFrameConsumer_IngestsVehicleCount(t *testing.T) {
	ingestor := &fakeIngestor{}
	c, broker := startConsumer(t, testVisionConfig(), staticDetector("car", "car", "bus", "person"), ingestor)

	require.NoError(t, broker.deliver(t, encodePNG(t, solidImage(16, 16, color.White))))
	broker.next(t)

	require.Eventually(t, func() bool { return len(ingestor.all()) == 1 }, time.Second, 10*time.Millisecond)
	r := ingestor.all()[0]
	assert.Equal(t, "vision:carla", r.SensorID)
	assert.Equal(t, 3, r.VehicleCount)
	assert.Equal(t, models.SourceVision, r.Source)
	require.NotNil(t, r.Timestamp)
	assert.Eventually(t, func() bool { return c.Stats().Ingested == 1 }, time.Second, 10*time.Millisecond)
}

func TestFrameConsumer_ConnectionStateFollowsBroker(t *testing.T) {
	c, broker := startConsumer(t, testVisionConfig(), staticDetector(), nil)
	assert.Equal(t, StateSubscribed, c.State())

	broker.setConnected(false, errors.New("connection reset"))
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, "DISCONNECTED", c.State().String())

	broker.setConnected(true, nil)
	assert.Equal(t, StateSubscribed, c.State())
}

func TestFrameConsumer_StartFailures(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		broker := newFakeBroker()
		broker.connectErr = errors.New("connection refused")
		c := NewFrameConsumer(testVisionConfig(), broker, staticDetector(), nil, zap.NewNop())

		err := c.Start(context.Background())
		var connErr *BrokerConnectionError
		require.True(t, errors.As(err, &connErr))
		assert.Equal(t, "carla/camera_feed", connErr.Topic)
		assert.Equal(t, StateDisconnected, c.State())
		assert.NoError(t, c.Stop(context.Background()))
	})

	t.Run("subscribe", func(t *testing.T) {
		broker := newFakeBroker()
		broker.subscribeErr = errors.New("not authorized")
		c := NewFrameConsumer(testVisionConfig(), broker, staticDetector(), nil, zap.NewNop())

		err := c.Start(context.Background())
		var connErr *BrokerConnectionError
		require.True(t, errors.As(err, &connErr))
		assert.True(t, broker.isDisconnected())
		assert.Equal(t, StateDisconnected, c.State())
	})
}

func TestFrameConsumer_StartTwice(t *testing.T) {
	c, _ := startConsumer(t, testVisionConfig(), staticDetector(), nil)
	assert.Error(t, c.Start(context.Background()))
}

func TestFrameConsumer_StopLetsInFlightFrameFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	det := detector.Func(func(ctx context.Context, img image.Image) ([]detector.Detection, error) {
		close(started)
		<-release
		return labels("car"), nil
	})
	broker := newFakeBroker()
	c := NewFrameConsumer(testVisionConfig(), broker, det, nil, zap.NewNop())
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, broker.deliver(t, encodePNG(t, solidImage(16, 16, color.White))))
	<-started

	stopped := make(chan struct{})
	go func() {
		_ = c.Stop(context.Background())
		close(stopped)
	}()

	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, broker.deliver(t, []byte("late frame")), errStopping)

	close(release)
	assert.JSONEq(t, `{"car":1}`, string(broker.next(t).payload))
	<-stopped

	assert.True(t, broker.isDisconnected())
	assert.Equal(t, []string{"carla/camera_feed"}, broker.unsubscribed)
}

func TestFrameConsumer_StopAbandonsAfterGrace(t *testing.T) {
	cfg := testVisionConfig()
	cfg.ShutdownGrace = 50 * time.Millisecond
	cfg.InferenceTimeout = time.Minute
	started := make(chan struct{})
	det := detector.Func(func(ctx context.Context, img image.Image) ([]detector.Detection, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	broker := newFakeBroker()
	c := NewFrameConsumer(cfg, broker, det, nil, zap.NewNop())
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, broker.deliver(t, encodePNG(t, solidImage(16, 16, color.White))))
	<-started

	begin := time.Now()
	require.NoError(t, c.Stop(context.Background()))
	assert.Less(t, time.Since(begin), time.Second)
	assert.True(t, broker.isDisconnected())
	broker.assertNoPublish(t, 50*time.Millisecond)
}
