package frames

import (
	"math"
	"sort"
	"time"
)

// PlanTimestamps returns evenly spaced capture timestamps (seconds) for a
// video of the given duration. Spacing starts at interval; when that would
// exceed maxFrames the whole duration is resampled to exactly maxFrames
// captures. Candidates closer than tolerance collapse to one.
func PlanTimestamps(duration time.Duration, interval time.Duration, maxFrames int, tolerance time.Duration) []float64 {
	durSec := duration.Seconds()
	if durSec <= 0 || maxFrames <= 0 {
		return []float64{0}
	}

	step := interval.Seconds()
	if step <= 0 {
		step = durSec
	}

	n := int(math.Floor(durSec/step)) + 1
	if n > maxFrames {
		step = durSec / float64(maxFrames)
		n = maxFrames
	}

	candidates := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		candidates = append(candidates, float64(i)*step)
	}

	return collapse(candidates, tolerance.Seconds())
}

// TargetTimestamps prepares the second, narrower extraction pass: only the
// timestamps the analysis flagged, clamped to the video, deduplicated and
// capped.
func TargetTimestamps(flagged []float64, duration time.Duration, tolerance time.Duration, cap int) []float64 {
	durSec := duration.Seconds()
	candidates := make([]float64, 0, len(flagged))
	for _, ts := range flagged {
		if ts < 0 {
			ts = 0
		}
		if durSec > 0 && ts > durSec {
			ts = durSec
		}
		candidates = append(candidates, ts)
	}
	sort.Float64s(candidates)

	out := collapse(candidates, tolerance.Seconds())
	if cap > 0 && len(out) > cap {
		out = out[:cap]
	}
	return out
}

func collapse(sorted []float64, tolerance float64) []float64 {
	out := make([]float64, 0, len(sorted))
	for _, ts := range sorted {
		if len(out) > 0 && ts-out[len(out)-1] < tolerance {
			continue
		}
		out = append(out, ts)
	}
	return out
}
