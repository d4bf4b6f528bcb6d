// Package catalog turns dataset files on disk into Dataset/File rows and
// answers filtered queries against them. It is source-type-agnostic: new
// source types are added by registering an Adapter (see adapter.go), never
// by touching the ingestion or query code paths.
package catalog

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by catalog operations. Per-file adapter failures
// are reported through the skip_invalid channel, not returned as Go errors,
// unless SkipInvalid is false.
var (
	// ErrNoFilesMatched is returned when a source_type's glob pattern matches nothing under the given paths.
	ErrNoFilesMatched = errors.New("catalog: no files matched source type pattern")
	// ErrAdapterNotRegistered is returned when Ingest or Query names an unknown source_type.
	ErrAdapterNotRegistered = errors.New("catalog: adapter not registered for source type")
	// ErrInvalidRecord is returned by an adapter when a file cannot be parsed into a metadata record.
	ErrInvalidRecord = errors.New("catalog: invalid metadata record")
)

type (
	// TimeRange is a half-open interval [Start, End) of timestamps.
	TimeRange struct {
		Start time.Time
		End   time.Time
	}

	// Record is the metadata an Adapter extracts from a single file.
	Record struct {
		Path       string
		SizeBytes  int64
		Checksum   string
		VariableID string
		TimeRange  *TimeRange // nil when the file carries no time dimension
		Facets     map[string]string
	}

	// Dataset is the catalog's unit of identity: (source_type, instance_id) is
	// unique, and only the latest Version per instance_id is "active".
	Dataset struct {
		ID         int64
		SourceType string
		InstanceID string
		Version    string
		Facets     map[string]string
		Active     bool
		CreatedAt  time.Time
	}

	// File belongs to exactly one Dataset; removing a Dataset removes its Files.
	File struct {
		ID         int64
		DatasetID  int64
		Path       string
		SizeBytes  int64
		Checksum   string
		VariableID string
		TimeRange  *TimeRange
	}

	// Filter is one predicate in a query: a conjunction of facet matches that
	// either must hold (Keep=true) or must not all hold simultaneously (Keep=false).
	Filter struct {
		Facets map[string][]string // facet name -> allowed values (OR within a facet)
		Keep   bool
	}

	// Row is one result row of Query: the dataset's facets plus its surrogate key.
	Row struct {
		DatasetID  int64
		SourceType string
		InstanceID string
		Version    string
		Facets     map[string]string
	}

	// IngestOptions controls Ingest's parsing and failure behavior.
	IngestOptions struct {
		SkipInvalid bool
		NJobs       int
		Parser      string // cmip6 only: "drs" or "complete"
	}

	// IngestResult summarizes one Ingest call.
	IngestResult struct {
		FilesSeen      int
		DatasetsAdded  int
		DatasetsSkipped int
		Failures       []IngestFailure
	}

	// IngestFailure records one file that failed adapter extraction under SkipInvalid.
	IngestFailure struct {
		Path   string
		Reason string
	}
)

// matches reports whether ds's facets satisfy this filter in isolation.
func (f Filter) matches(facets map[string]string) bool {
	for name, values := range f.Facets {
		actual, ok := facets[name]
		if !ok {
			return false
		}

		found := false

		for _, v := range values {
			if v == actual {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

// ApplyFilters reports whether facets satisfies the conjunction of keep=true
// filters and none of the keep=false filters, per §4.1: "a negative filter
// excludes a row only if all its facets match."
func ApplyFilters(facets map[string]string, filters []Filter) bool {
	for _, f := range filters {
		hit := f.matches(facets)

		if f.Keep && !hit {
			return false
		}

		if !f.Keep && hit {
			return false
		}
	}

	return true
}
