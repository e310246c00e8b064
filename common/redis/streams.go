package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamOptions controls XADD trimming. MaxLen 0 leaves the stream untrimmed.
type StreamOptions struct {
	MaxLen int64
}

// PublishToStream appends values to a stream, stringifying scalars and
// JSON-encoding everything else.
func PublishToStream(ctx context.Context, client *redis.Client, stream string, values map[string]interface{}, opts StreamOptions) (string, error) {
	streamValues := make(map[string]interface{}, len(values))
	for k, v := range values {
		var strValue string
		switch val := v.(type) {
		case string:
			strValue = val
		case []byte:
			strValue = string(val)
		case int:
			strValue = strconv.Itoa(val)
		case int64:
			strValue = strconv.FormatInt(val, 10)
		case float64:
			strValue = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			strValue = strconv.FormatBool(val)
		default:
			jsonBytes, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("failed to encode stream field %s: %w", k, err)
			}
			strValue = string(jsonBytes)
		}
		streamValues[k] = strValue
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: streamValues,
	}
	if opts.MaxLen > 0 {
		args.MaxLen = opts.MaxLen
		args.Approx = true
	}
	return client.XAdd(ctx, args).Result()
}

// PublishJSONToStream appends {"data": <json>, "timestamp": <unix>} to a stream.
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, data interface{}, opts StreamOptions) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return PublishToStream(ctx, client, stream, map[string]interface{}{
		"data":      jsonBytes,
		"timestamp": time.Now().Unix(),
	}, opts)
}
