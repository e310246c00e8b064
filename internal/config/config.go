package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "github.com/CALEB-creator15/sih-backend-project/common/config"

	"gopkg.in/yaml.v3"
)

// Config its-traffic service configuration
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Congestion CongestionConfig `yaml:"congestion"`

	MQTT     commoncfg.MQTTConfig `yaml:"mqtt"`
	Vision   VisionConfig         `yaml:"vision"`
	Detector DetectorConfig       `yaml:"detector"`

	RedisEnabled bool                  `yaml:"redis_enabled"`
	Redis        commoncfg.RedisConfig `yaml:"redis"`
	Feed         FeedConfig            `yaml:"feed"`

	DBEnabled bool                     `yaml:"db_enabled"`
	Database  commoncfg.DatabaseConfig `yaml:"database"`
}

// CongestionConfig classifier cutoffs (strict >)
type CongestionConfig struct {
	VehicleThreshold int     `yaml:"vehicle_threshold"`
	DensityThreshold float64 `yaml:"density_threshold"`
}

// VisionConfig detection pipeline
type VisionConfig struct {
	Enabled bool `yaml:"enabled"`
	Topics  struct {
		Input  string `yaml:"input"`  // raw encoded frames, e.g. "carla/camera_feed"
		Output string `yaml:"output"` // label -> count JSON, e.g. "carla/control"
	} `yaml:"topics"`
	// taken from MQTT.QoS
	QoS              byte          `yaml:"-"`
	InferenceSize    int           `yaml:"inference_size"` // square letterbox side in pixels; 0 keeps the frame size
	InferenceTimeout time.Duration `yaml:"inference_timeout"`
	ShutdownGrace    time.Duration `yaml:"shutdown_grace"`
	QueueSize        int           `yaml:"queue_size"`
	MaxFramePixels   int           `yaml:"max_frame_pixels"`

	// fold detections into the traffic state store as a sensor reading
	IngestEnabled bool     `yaml:"ingest_enabled"`
	SensorID      string   `yaml:"sensor_id"`
	VehicleLabels []string `yaml:"vehicle_labels"`
}

// DetectorConfig HTTP inference backend
type DetectorConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Timeout       time.Duration `yaml:"timeout"`
	MinConfidence float64       `yaml:"min_confidence"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
}

// FeedConfig Redis congestion feed; cache keys are <KeyPrefix><sensor_id><KeySuffix>
type FeedConfig struct {
	KeyPrefix    string        `yaml:"key_prefix"`
	KeySuffix    string        `yaml:"key_suffix"`
	VerdictTTL   time.Duration `yaml:"verdict_ttl"`
	Stream       string        `yaml:"stream"`
	StreamMaxLen int64         `yaml:"stream_max_len"`
}

// Load applies defaults, then the YAML file named by CONFIG_FILE (if any),
// then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Congestion.VehicleThreshold = getEnvInt("CONGESTION_VEHICLE_THRESHOLD", cfg.Congestion.VehicleThreshold)
	cfg.Congestion.DensityThreshold = getEnvFloat("CONGESTION_DENSITY_THRESHOLD", cfg.Congestion.DensityThreshold)

	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Vision.Enabled = getEnvBool("VISION_ENABLED", cfg.Vision.Enabled)
	cfg.Vision.Topics.Input = getEnv("VISION_TOPIC_INPUT", cfg.Vision.Topics.Input)
	cfg.Vision.Topics.Output = getEnv("VISION_TOPIC_OUTPUT", cfg.Vision.Topics.Output)
	cfg.Vision.InferenceSize = getEnvInt("VISION_INFERENCE_SIZE", cfg.Vision.InferenceSize)
	cfg.Vision.InferenceTimeout = getEnvDuration("VISION_INFERENCE_TIMEOUT", cfg.Vision.InferenceTimeout)
	cfg.Vision.ShutdownGrace = getEnvDuration("VISION_SHUTDOWN_GRACE", cfg.Vision.ShutdownGrace)
	cfg.Vision.QueueSize = getEnvInt("VISION_QUEUE_SIZE", cfg.Vision.QueueSize)
	cfg.Vision.MaxFramePixels = getEnvInt("VISION_MAX_FRAME_PIXELS", cfg.Vision.MaxFramePixels)
	cfg.Vision.IngestEnabled = getEnvBool("VISION_INGEST_ENABLED", cfg.Vision.IngestEnabled)
	cfg.Vision.SensorID = getEnv("VISION_SENSOR_ID", cfg.Vision.SensorID)
	cfg.Vision.VehicleLabels = getEnvList("VISION_VEHICLE_LABELS", cfg.Vision.VehicleLabels)

	cfg.Detector.Endpoint = getEnv("DETECTOR_ENDPOINT", cfg.Detector.Endpoint)
	cfg.Detector.Timeout = getEnvDuration("DETECTOR_TIMEOUT", cfg.Detector.Timeout)
	cfg.Detector.MinConfidence = getEnvFloat("DETECTOR_CONFIDENCE", cfg.Detector.MinConfidence)
	cfg.Detector.JPEGQuality = getEnvInt("DETECTOR_JPEG_QUALITY", cfg.Detector.JPEGQuality)

	cfg.RedisEnabled = getEnvBool("REDIS_ENABLED", cfg.RedisEnabled)
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.Feed.Stream = getEnv("FEED_STREAM", cfg.Feed.Stream)
	cfg.Feed.VerdictTTL = getEnvDuration("FEED_VERDICT_TTL", cfg.Feed.VerdictTTL)

	cfg.DBEnabled = getEnvBool("DB_ENABLED", cfg.DBEnabled)
	cfg.Database.LoadFromEnv("DB")

	cfg.Vision.QoS = cfg.MQTT.QoS

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default values match the reference deployment (local broker, YOLO at 640px).
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8000"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	cfg.Congestion.VehicleThreshold = 50
	cfg.Congestion.DensityThreshold = 0.8

	cfg.MQTT.Broker = "tcp://127.0.0.1:1883"
	cfg.MQTT.ClientID = "ml_client"
	cfg.MQTT.QoS = 1
	cfg.MQTT.KeepAlive = 60 * time.Second
	cfg.MQTT.ConnectTimeout = 10 * time.Second
	cfg.MQTT.PublishTimeout = 10 * time.Second

	cfg.Vision.Topics.Input = "carla/camera_feed"
	cfg.Vision.Topics.Output = "carla/control"
	cfg.Vision.QoS = 1
	cfg.Vision.InferenceSize = 640
	cfg.Vision.InferenceTimeout = 10 * time.Second
	cfg.Vision.ShutdownGrace = 5 * time.Second
	cfg.Vision.QueueSize = 16
	cfg.Vision.MaxFramePixels = 50_000_000
	cfg.Vision.SensorID = "vision:carla"
	cfg.Vision.VehicleLabels = []string{"car", "truck", "bus", "motorcycle", "bicycle"}

	cfg.Detector.Timeout = 8 * time.Second
	cfg.Detector.MinConfidence = 0.25
	cfg.Detector.JPEGQuality = 90

	cfg.Redis.Addr = "localhost:6379"
	cfg.Feed.KeyPrefix = "traffic:sensor:"
	cfg.Feed.KeySuffix = ":verdict"
	cfg.Feed.VerdictTTL = 60 * time.Second
	cfg.Feed.Stream = "traffic:congestion:stream"
	cfg.Feed.StreamMaxLen = 10000

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "traffic"
	cfg.Database.SSLMode = "disable"
	return cfg
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Congestion.VehicleThreshold < 0 {
		return fmt.Errorf("congestion vehicle threshold must be >= 0")
	}
	if c.MQTT.QoS > 2 || c.Vision.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	if c.Vision.Enabled {
		if c.Vision.Topics.Input == "" || c.Vision.Topics.Output == "" {
			return fmt.Errorf("vision input and output topics are required")
		}
		if c.Detector.Endpoint == "" {
			return fmt.Errorf("DETECTOR_ENDPOINT is required when vision is enabled")
		}
		if c.Vision.IngestEnabled && c.Vision.SensorID == "" {
			return fmt.Errorf("VISION_SENSOR_ID is required when vision ingestion is enabled")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
