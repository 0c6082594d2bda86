package coherence

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidWindowFormat = errors.New("invalid window size format")

// maxWindowSeconds is the largest window that still fits a time.Duration;
// anything above would overflow negative when converted to nanoseconds.
const maxWindowSeconds = math.MaxInt64 / int64(time.Second)

type Signal struct {
	Time   time.Time
	Source string
	Score  float64
}

type DriftWindow struct {
	WindowStart time.Time
	WindowEnd   time.Time
	DriftScore  float64
	SignalCount int
}

// ParseWindowSize converts a window string like "30s", "5m" or "1h" into seconds.
// There is no fallback: a malformed string is a client error, never a default.
func ParseWindowSize(windowStr string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(windowStr))
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindowFormat, windowStr)
	}

	var multiplier int
	switch s[len(s)-1] {
	case 's':
		multiplier = 1
	case 'm':
		multiplier = 60
	case 'h':
		multiplier = 3600
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindowFormat, windowStr)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindowFormat, windowStr)
	}
	if int64(n) > maxWindowSeconds/int64(multiplier) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindowFormat, windowStr)
	}

	return n * multiplier, nil
}

// Variance computes the population variance of signal scores, rescaled so the
// theoretical maximum of 0.25 for values in [0,1] maps to 1.0.
func Variance(values []float64) float64 {
	if len(values) < 2 {
		return 0.0
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	normalized := variance * 4
	if normalized > 1.0 {
		normalized = 1.0
	}
	return normalized
}

// DriftWindows partitions time-ascending signals into contiguous fixed-size
// windows starting at the first signal's timestamp and computes the drift
// score per window. No window starts once the cursor reaches the timestamp of
// the final signal, so a single signal yields no windows. Windows without
// signals are skipped.
func DriftWindows(signals []Signal, windowSeconds int) []DriftWindow {
	if len(signals) == 0 || windowSeconds <= 0 {
		return nil
	}

	width := time.Duration(windowSeconds) * time.Second
	if width <= 0 {
		// Conversion overflowed; a negative width would walk the cursor
		// backwards and the loop below would never terminate.
		return nil
	}

	first := signals[0].Time
	last := signals[len(signals)-1].Time

	var metrics []DriftWindow
	i := 0
	for cursor := first; cursor.Before(last); cursor = cursor.Add(width) {
		windowEnd := cursor.Add(width)

		start := i
		for i < len(signals) && signals[i].Time.Before(windowEnd) {
			i++
		}

		if i == start {
			continue
		}

		scores := make([]float64, 0, i-start)
		for _, s := range signals[start:i] {
			scores = append(scores, s.Score)
		}

		metrics = append(metrics, DriftWindow{
			WindowStart: cursor,
			WindowEnd:   windowEnd,
			DriftScore:  Variance(scores),
			SignalCount: i - start,
		})
	}

	return metrics
}
