package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// zoned layouts keep their offset; the rest are read as UTC
var (
	zonedLayouts = []string{time.RFC3339Nano}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02",
	}
)

// timestamp accepts ISO-8601 strings with or without a zone offset, fractional
// seconds included, and unix seconds as a number.
type timestamp time.Time

func (t *timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '"' {
		var secs float64
		if err := json.Unmarshal(data, &secs); err != nil {
			return fmt.Errorf("invalid timestamp %s", data)
		}
		whole, frac := math.Modf(secs)
		*t = timestamp(time.Unix(int64(whole), int64(frac*1e9)).UTC())
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := parseTimestamp(s)
	if err != nil {
		return err
	}
	*t = timestamp(parsed)
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range zonedLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			return v, nil
		}
	}
	for _, layout := range localLayouts {
		if v, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return v, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// timePtr nil stays nil
func (t *timestamp) timePtr() *time.Time {
	if t == nil {
		return nil
	}
	v := time.Time(*t)
	return &v
}
