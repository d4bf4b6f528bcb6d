package canonical_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/climate-eval/coreeval/internal/canonical"
)

func TestDatasetHash_Deterministic(t *testing.T) {
	a := []canonical.DatasetKey{
		{SourceType: "cmip6", InstanceID: "tas.ACCESS-ESM1-5.historical.r1i1p1f1", Version: "v1"},
		{SourceType: "cmip6", InstanceID: "areacella.ACCESS-ESM1-5", Version: "v1"},
	}
	b := []canonical.DatasetKey{a[1], a[0]} // reversed insertion order

	assert.Equal(t, canonical.DatasetHash(a), canonical.DatasetHash(b),
		"hash must not depend on input ordering")
}

func TestDatasetHash_DiffersOnVersion(t *testing.T) {
	a := []canonical.DatasetKey{{SourceType: "cmip6", InstanceID: "tas.x", Version: "v1"}}
	b := []canonical.DatasetKey{{SourceType: "cmip6", InstanceID: "tas.x", Version: "v2"}}

	assert.NotEqual(t, canonical.DatasetHash(a), canonical.DatasetHash(b))
}

func TestGroupKeyString_SortsByFacetName(t *testing.T) {
	pairs := []canonical.FacetValue{
		{Facet: "variable_id", Value: "tas"},
		{Facet: "experiment_id", Value: "historical"},
		{Facet: "source_id", Value: "ACCESS-ESM1-5"},
	}

	got := canonical.GroupKeyString(pairs)

	assert.Equal(t, "experiment_id=historical|source_id=ACCESS-ESM1-5|variable_id=tas", got)
}

func TestGroupKeyString_Reproducible(t *testing.T) {
	s1 := canonical.FacetValue{Facet: "experiment_id", Value: "historical"}
	s2 := canonical.FacetValue{Facet: "member_id", Value: "r1i1p1f1"}
	s3 := canonical.FacetValue{Facet: "source_id", Value: "ACCESS-ESM1-5"}
	s4 := canonical.FacetValue{Facet: "variable_id", Value: "tas"}

	order1 := canonical.GroupKeyString([]canonical.FacetValue{s1, s2, s3, s4})
	order2 := canonical.GroupKeyString([]canonical.FacetValue{s4, s3, s2, s1})

	assert.Equal(t, order1, order2)
}
