package bundle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climate-eval/coreeval/internal/bundle"
)

func validMetricBundle() bundle.MetricBundle {
	return bundle.MetricBundle{
		Dimensions: bundle.Dimensions{
			JSONStructure: []string{"region", "metric", "statistic"},
			Facets: map[string]map[string]map[string]any{
				"region":    {"global": {}},
				"metric":    {"rmse": {}},
				"statistic": {"mean": {}},
			},
		},
		Results: map[string]any{
			"global": map[string]any{
				"rmse": map[string]any{
					"mean": 1.23,
				},
			},
		},
	}
}

func TestMetricBundleRoundTrip(t *testing.T) {
	original := validMetricBundle()
	original.Results["global"].(map[string]any)["rmse"].(map[string]any)["dropped"] = nil

	data, err := bundle.MarshalMetricBundle(original)
	require.NoError(t, err)

	readBack, err := bundle.UnmarshalMetricBundle(data)
	require.NoError(t, err)

	// The null-valued key is omitted on both sides of the round trip (§8).
	rmse, _ := readBack.Results["global"].(map[string]any)["rmse"].(map[string]any)
	_, hasDropped := rmse["dropped"]
	assert.False(t, hasDropped)
	assert.InDelta(t, 1.23, rmse["mean"], 1e-9)
}

func TestValidateMetricBundleAcceptsScalarAndNamedStatistics(t *testing.T) {
	b := validMetricBundle()
	err := bundle.ValidateMetricBundle(b, []string{"region", "metric", "statistic"})
	require.NoError(t, err)
}

// S6: a metric bundle whose RESULTS leaves are objects with extra, further-
// nested keys must fail validation.
func TestValidateMetricBundleRejectsNestedLeaf(t *testing.T) {
	b := validMetricBundle()
	b.Results["global"].(map[string]any)["rmse"].(map[string]any)["mean"] = map[string]any{
		"nested": map[string]any{"too": "deep"},
	}

	err := bundle.ValidateMetricBundle(b, []string{"region", "metric", "statistic"})
	require.ErrorIs(t, err, bundle.ErrLeafNotScalar)
}

func TestValidateMetricBundleRejectsDimensionMismatch(t *testing.T) {
	b := validMetricBundle()
	b.Dimensions.JSONStructure = []string{"region", "metric"}

	err := bundle.ValidateMetricBundle(b, []string{"region", "metric", "statistic"})
	require.ErrorIs(t, err, bundle.ErrDimensionMismatch)
}
