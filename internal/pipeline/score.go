// Package pipeline drives resources and fix jobs through their processing
// stages and owns the deterministic post-fix scoring.
package pipeline

import (
	"math"
	"sort"

	"roomlens/internal/models"
)

// Severity weights for score recovery.
const (
	pointsHigh   = 15
	pointsMedium = 10
	pointsLow    = 5
)

func severityPoints(s models.Severity) int {
	switch s {
	case models.SeverityHigh:
		return pointsHigh
	case models.SeverityMedium:
		return pointsMedium
	default:
		return pointsLow
	}
}

// Rescore recomputes dimension scores after a fix. It is a pure function of
// the analysis and the fixed problem set; no AI output is involved:
//
//   - every fixed problem recovers severity-weighted points in its dimension
//   - a dimension whose problems were all fixed lands in [95,100]
//   - a dimension only partially fixed is capped at 90
//   - a dimension with no problems is floored at max(original, 90)
//   - the overall score is the mean of dimension scores, floored at 95 when
//     the fix scope covered all problems
func Rescore(a models.Analysis, fixedIDs []string, allScope bool) (int, map[string]int) {
	fixed := make(map[string]bool, len(fixedIDs))
	for _, id := range fixedIDs {
		fixed[id] = true
	}

	type dimState struct {
		total     int
		fixedN    int
		recovered int
	}
	states := make(map[string]*dimState, len(a.Dimensions))
	for dim := range a.Dimensions {
		states[dim] = &dimState{}
	}
	for _, p := range a.Problems {
		st, ok := states[p.Dimension]
		if !ok {
			st = &dimState{}
			states[p.Dimension] = st
		}
		st.total++
		if fixed[p.ID] {
			st.fixedN++
			st.recovered += severityPoints(p.Severity)
		}
	}

	dims := make([]string, 0, len(a.Dimensions))
	for dim := range a.Dimensions {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	after := make(map[string]int, len(dims))
	sum := 0
	for _, dim := range dims {
		orig := a.Dimensions[dim]
		st := states[dim]

		var score int
		switch {
		case st.total == 0:
			score = max(orig, 90)
		case st.fixedN == st.total:
			score = clamp(orig+st.recovered, 95, 100)
		case st.fixedN > 0:
			score = min(orig+st.recovered, 90)
		default:
			score = orig
		}

		after[dim] = score
		sum += score
	}

	overall := 0
	if len(dims) > 0 {
		overall = int(math.Round(float64(sum) / float64(len(dims))))
	}
	if allScope && overall < 95 {
		overall = 95
	}
	return overall, after
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
