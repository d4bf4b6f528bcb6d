package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climate-eval/coreeval/internal/bundle"
	"github.com/climate-eval/coreeval/internal/store"
)

func TestGroupKeyString_SortsFacetsAlphabeticallyRegardlessOfInputOrder(t *testing.T) {
	a := groupKeyString(map[string]string{"variable_id": "tas", "source_id": "X", "experiment_id": "historical"})
	b := groupKeyString(map[string]string{"source_id": "X", "experiment_id": "historical", "variable_id": "tas"})

	assert.Equal(t, a, b)
	assert.Equal(t, "experiment_id=historical|source_id=X|variable_id=tas", a)
}

func TestManifestFromOutputBundle_InfersOutputTypePerSectionAndAlwaysIncludesBundleFiles(t *testing.T) {
	ob := bundle.OutputBundle{
		Data:  map[string]bundle.FileEntry{"tas": {Filename: "tas.nc", Description: "model tas"}},
		Plots: map[string]bundle.FileEntry{"global": {Filename: "global.png"}},
		HTML:  map[string]bundle.FileEntry{"index": {Filename: "index.html"}},
	}

	entries := manifestFromOutputBundle(ob)

	byPath := make(map[string]store.ManifestEntry, len(entries))
	for _, e := range entries {
		byPath[e.RelativePath] = e
	}

	require.Contains(t, byPath, "tas.nc")
	assert.Equal(t, store.OutputNC, byPath["tas.nc"].Type)

	require.Contains(t, byPath, "global.png")
	assert.Equal(t, store.OutputPNG, byPath["global.png"].Type)

	require.Contains(t, byPath, "index.html")
	assert.Equal(t, store.OutputHTML, byPath["index.html"].Type)

	require.Contains(t, byPath, bundle.OutputFilename)
	require.Contains(t, byPath, bundle.MetricFilename)
}

func TestManifestFromOutputBundle_EmptyBundleStillListsTheTwoJSONFiles(t *testing.T) {
	entries := manifestFromOutputBundle(bundle.OutputBundle{})
	require.Len(t, entries, 2)

	for _, e := range entries {
		assert.Equal(t, store.OutputJSON, e.Type)
	}
}

func TestFlattenMetricBundle_EmitsOneMetricValuePerScalarLeafWithAccumulatedFacets(t *testing.T) {
	mb := bundle.MetricBundle{
		Dimensions: bundle.Dimensions{JSONStructure: []string{"region", "season"}},
		Results: map[string]any{
			"global": map[string]any{
				"djf": 1.5,
				"jja": 2.5,
			},
			"tropics": map[string]any{
				"djf": 3.5,
			},
		},
	}

	values := flattenMetricBundle(mb)
	require.Len(t, values, 3)

	byKey := make(map[string]float64, len(values))
	for _, v := range values {
		byKey[v.Facets["region"]+"/"+v.Facets["season"]] = v.Value
	}

	assert.Equal(t, 1.5, byKey["global/djf"])
	assert.Equal(t, 2.5, byKey["global/jja"])
	assert.Equal(t, 3.5, byKey["tropics/djf"])
}

func TestFlattenMetricBundle_NonScalarLeafIsSkippedNotPersisted(t *testing.T) {
	mb := bundle.MetricBundle{
		Dimensions: bundle.Dimensions{JSONStructure: []string{"region"}},
		Results: map[string]any{
			"global": map[string]any{"rmse": 1.0, "bias": 0.5},
		},
	}

	values := flattenMetricBundle(mb)
	assert.Empty(t, values, "a flat-object leaf (scenario S6's named-statistics shape) has no metric_values column for the statistic name")
}
