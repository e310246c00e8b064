package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	rediscommon "github.com/CALEB-creator15/sih-backend-project/common/redis"
	"github.com/CALEB-creator15/sih-backend-project/internal/config"
	"github.com/CALEB-creator15/sih-backend-project/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CongestionFeed fans verdicts out to downstream actuation: the latest verdict
// per sensor is cached with a TTL and every verdict is appended to a stream.
type CongestionFeed struct {
	kv     KV
	client *redis.Client
	config config.FeedConfig
	logger *zap.Logger
}

func NewCongestionFeed(client *redis.Client, cfg config.FeedConfig, logger *zap.Logger) *CongestionFeed {
	return &CongestionFeed{
		kv:     NewRedisKV(client),
		client: client,
		config: cfg,
		logger: logger,
	}
}

func (f *CongestionFeed) verdictKey(sensorID string) string {
	return f.config.KeyPrefix + sensorID + f.config.KeySuffix
}

// PublishVerdict writes the cache entry, then the stream entry. Both are
// attempted; errors are joined.
func (f *CongestionFeed) PublishVerdict(ctx context.Context, v models.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	var errs error
	if err := f.kv.Set(ctx, f.verdictKey(v.SensorID), string(data), f.config.VerdictTTL); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to cache verdict: %w", err))
	}

	streamID, err := rediscommon.PublishJSONToStream(ctx, f.client, f.config.Stream, v,
		rediscommon.StreamOptions{MaxLen: f.config.StreamMaxLen})
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to publish verdict to stream %s: %w", f.config.Stream, err))
	} else {
		f.logger.Debug("Published congestion verdict",
			zap.String("sensor_id", v.SensorID),
			zap.Bool("congested", v.Congested),
			zap.String("stream_id", streamID),
		)
	}

	return errs
}
