package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"roomlens/internal/models"
)

func analysisFixture() models.Analysis {
	return models.Analysis{
		ResourceID: "res_1",
		Overall:    62,
		Dimensions: map[string]int{
			"lighting": 55,
			"clutter":  60,
			"color":    80,
		},
		Problems: []models.Problem{
			{ID: "p1", Dimension: "lighting", Severity: models.SeverityHigh},
			{ID: "p2", Dimension: "lighting", Severity: models.SeverityMedium},
			{ID: "p3", Dimension: "clutter", Severity: models.SeverityLow},
		},
	}
}

func TestRescore_Deterministic(t *testing.T) {
	a := analysisFixture()
	fixed := []string{"p1", "p3"}

	overall1, dims1 := Rescore(a, fixed, false)
	overall2, dims2 := Rescore(a, fixed, false)

	require.Equal(t, overall1, overall2)
	require.Equal(t, dims1, dims2)
}

func TestRescore_FullyFixedDimensionLandsHigh(t *testing.T) {
	a := analysisFixture()

	_, dims := Rescore(a, []string{"p1", "p2", "p3"}, true)

	// lighting: 55 + 15 + 10 = 80, clamped up to the fully-fixed floor
	require.Equal(t, 95, dims["lighting"])
	// clutter: 60 + 5 = 65, clamped up as well
	require.Equal(t, 95, dims["clutter"])
}

func TestRescore_FullyFixedDimensionCappedAt100(t *testing.T) {
	a := models.Analysis{
		Dimensions: map[string]int{"style": 92},
		Problems: []models.Problem{
			{ID: "p1", Dimension: "style", Severity: models.SeverityHigh},
		},
	}

	_, dims := Rescore(a, []string{"p1"}, false)
	require.Equal(t, 100, dims["style"])
}

func TestRescore_PartialFixCappedAt90(t *testing.T) {
	a := analysisFixture()

	_, dims := Rescore(a, []string{"p1"}, false)

	// one of two lighting problems fixed: 55 + 15 = 70, under the cap
	require.Equal(t, 70, dims["lighting"])
	// clutter untouched
	require.Equal(t, 60, dims["clutter"])

	a.Dimensions["lighting"] = 85
	_, dims = Rescore(a, []string{"p1"}, false)
	// 85 + 15 = 100 but a partially fixed dimension never exceeds 90
	require.Equal(t, 90, dims["lighting"])
}

func TestRescore_ProblemFreeDimensionFloored(t *testing.T) {
	a := analysisFixture()

	_, dims := Rescore(a, []string{"p1"}, false)
	require.Equal(t, 90, dims["color"])

	a.Dimensions["color"] = 97
	_, dims = Rescore(a, []string{"p1"}, false)
	require.Equal(t, 97, dims["color"])
}

func TestRescore_AllScopeOverallFloor(t *testing.T) {
	a := analysisFixture()

	overall, _ := Rescore(a, []string{"p1", "p2", "p3"}, true)
	require.GreaterOrEqual(t, overall, 95)

	overall, _ = Rescore(a, []string{"p1"}, false)
	require.Less(t, overall, 95)
}

func TestRescore_NoDimensions(t *testing.T) {
	overall, dims := Rescore(models.Analysis{}, nil, false)
	require.Equal(t, 0, overall)
	require.Empty(t, dims)
}
