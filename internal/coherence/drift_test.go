package coherence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindowSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"30s", 30, false},
		{"5m", 300, false},
		{"1h", 3600, false},
		{"  10M  ", 600, false},
		{"0s", 0, false},
		{"bogus", 0, true},
		{"", 0, true},
		{"m", 0, true},
		{"5d", 0, true},
		{"-5m", 0, true},
		{"5.5m", 0, true},
		{"m5", 0, true},
		// Largest values that still fit a time.Duration, and one past.
		{"9223372036s", 9223372036, false},
		{"9223372037s", 0, true},
		{"2562047h", 2562047 * 3600, false},
		{"2562048h", 0, true},
		{"9999999999h", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseWindowSize(tt.input)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidWindowFormat, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestVarianceFewerThanTwoValues(t *testing.T) {
	assert.Equal(t, 0.0, Variance(nil))
	assert.Equal(t, 0.0, Variance([]float64{}))
	assert.Equal(t, 0.0, Variance([]float64{0.9}))
}

func TestVarianceKnownValues(t *testing.T) {
	assert.Equal(t, 0.0, Variance([]float64{0.5, 0.5, 0.5}))

	// Maximum spread for values in [0,1]: variance 0.25, rescaled to 1.0.
	assert.InDelta(t, 1.0, Variance([]float64{0.0, 1.0}), 1e-9)

	// var([0.2,0.4,0.6]) = 0.02666..., x4 = 0.10666...
	assert.InDelta(t, 0.10666666, Variance([]float64{0.2, 0.4, 0.6}), 1e-6)
}

func TestVarianceBoundsAndOrderIndependence(t *testing.T) {
	sets := [][]float64{
		{0.0, 1.0, 0.0, 1.0, 0.0, 1.0},
		{0.1, 0.9, 0.3, 0.7},
		{0.33, 0.33, 0.34},
	}
	for _, values := range sets {
		v := Variance(values)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)

		reversed := make([]float64, len(values))
		for i, x := range values {
			reversed[len(values)-1-i] = x
		}
		assert.Equal(t, v, Variance(reversed))
	}
}

func sig(t0 time.Time, offsetSeconds int, score float64) Signal {
	return Signal{
		Time:   t0.Add(time.Duration(offsetSeconds) * time.Second),
		Source: "test",
		Score:  score,
	}
}

func TestDriftWindowsEmptyAndSingle(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Empty(t, DriftWindows(nil, 300))

	// A lone signal never opens a window: the cursor starts at the final
	// signal's timestamp, so the loop guard fails immediately.
	assert.Empty(t, DriftWindows([]Signal{sig(t0, 0, 0.5)}, 300))
}

func TestDriftWindowsZeroWidth(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signals := []Signal{sig(t0, 0, 0.5), sig(t0, 100, 0.6)}
	assert.Empty(t, DriftWindows(signals, 0))
}

func TestDriftWindowsMaximumWidth(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signals := []Signal{sig(t0, 0, 0.5), sig(t0, 600, 0.7)}

	// The widest window a Duration can express swallows both signals.
	windows := DriftWindows(signals, int(maxWindowSeconds))
	require.Len(t, windows, 1)
	assert.Equal(t, 2, windows[0].SignalCount)
}

func TestDriftWindowsWidthOverflow(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signals := []Signal{sig(t0, 0, 0.5), sig(t0, 600, 0.7)}

	// One second past the Duration limit overflows to a negative width;
	// the segmenter must bail out instead of walking the cursor backwards.
	done := make(chan []DriftWindow, 1)
	go func() {
		done <- DriftWindows(signals, int(maxWindowSeconds)+1)
	}()

	select {
	case windows := <-done:
		assert.Empty(t, windows)
	case <-time.After(3 * time.Second):
		t.Fatal("segmenter did not terminate with an overflowing window width")
	}
}

func TestDriftWindowsContiguous(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signals := []Signal{
		sig(t0, 0, 0.9),
		sig(t0, 150, 0.9),
		sig(t0, 310, 0.2),
	}

	windows := DriftWindows(signals, 300)
	require.Len(t, windows, 2)

	assert.Equal(t, t0, windows[0].WindowStart)
	assert.Equal(t, t0.Add(300*time.Second), windows[0].WindowEnd)
	assert.Equal(t, 2, windows[0].SignalCount)
	assert.Equal(t, 0.0, windows[0].DriftScore)

	assert.Equal(t, t0.Add(300*time.Second), windows[1].WindowStart)
	assert.Equal(t, t0.Add(600*time.Second), windows[1].WindowEnd)
	assert.Equal(t, 1, windows[1].SignalCount)
	assert.Equal(t, 0.0, windows[1].DriftScore)
}

func TestDriftWindowsFullCoverage(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// One signal per 60s window across 5 windows plus a terminator inside
	// the fifth.
	var signals []Signal
	for i := 0; i < 5; i++ {
		signals = append(signals, sig(t0, i*60, 0.5))
	}
	signals = append(signals, sig(t0, 4*60+30, 0.5))

	windows := DriftWindows(signals, 60)
	require.Len(t, windows, 5)

	for i, w := range windows {
		assert.Equal(t, t0.Add(time.Duration(i)*60*time.Second), w.WindowStart)
		assert.Equal(t, w.WindowStart.Add(60*time.Second), w.WindowEnd)
		if i > 0 {
			assert.Equal(t, windows[i-1].WindowEnd, w.WindowStart)
		}
	}

	total := 0
	for _, w := range windows {
		total += w.SignalCount
	}
	assert.Equal(t, len(signals), total)
}

func TestDriftWindowsSkipsEmptyWindows(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	signals := []Signal{
		sig(t0, 0, 0.4),
		sig(t0, 10, 0.6),
		// Gap spanning several whole windows.
		sig(t0, 250, 0.5),
	}

	windows := DriftWindows(signals, 60)
	require.Len(t, windows, 2)
	assert.Equal(t, 2, windows[0].SignalCount)
	assert.Equal(t, t0.Add(240*time.Second), windows[1].WindowStart)
	assert.Equal(t, 1, windows[1].SignalCount)
}

func TestDriftWindowsBoundarySignalExcluded(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	signals := []Signal{
		sig(t0, 0, 0.5),
		sig(t0, 300, 0.9),
	}

	// The last signal sits exactly on a window boundary; no window may
	// start at or past the final timestamp, so it belongs to no window.
	windows := DriftWindows(signals, 300)
	require.Len(t, windows, 1)
	assert.Equal(t, 1, windows[0].SignalCount)
}
