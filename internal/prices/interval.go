package prices

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultIntervals are the price history granularities written when none
// are configured.
var DefaultIntervals = []string{"1m", "5m", "1h", "1d"}

// Interval is one price history granularity, identified by its label.
type Interval struct {
	Label    string
	Duration time.Duration
}

// ParseInterval accepts Go durations ("5m", "1h") plus a "d" day suffix.
// The duration must divide a day so buckets align to UTC midnight.
func ParseInterval(label string) (Interval, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Interval{}, fmt.Errorf("empty interval")
	}

	var d time.Duration
	if days, ok := strings.CutSuffix(label, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return Interval{}, fmt.Errorf("invalid interval %q: %w", label, err)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(label); err != nil {
			return Interval{}, fmt.Errorf("invalid interval %q: %w", label, err)
		}
	}

	if d <= 0 {
		return Interval{}, fmt.Errorf("invalid interval %q: must be positive", label)
	}
	if d > 24*time.Hour || (24*time.Hour)%d != 0 {
		return Interval{}, fmt.Errorf("invalid interval %q: must divide 24h", label)
	}
	return Interval{Label: label, Duration: d}, nil
}

func ParseIntervals(labels []string) ([]Interval, error) {
	out := make([]Interval, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		iv, err := ParseInterval(l)
		if err != nil {
			return nil, err
		}
		if seen[iv.Label] {
			continue
		}
		seen[iv.Label] = true
		out = append(out, iv)
	}
	return out, nil
}

// Bucket returns the start of the interval containing ts, in UTC.
func (iv Interval) Bucket(ts time.Time) time.Time {
	return Bucket(ts, iv.Duration)
}

// Bucket truncates ts to a multiple of d since the Unix epoch in UTC. For
// a 1d interval that is midnight UTC.
func Bucket(ts time.Time, d time.Duration) time.Time {
	return ts.UTC().Truncate(d)
}
