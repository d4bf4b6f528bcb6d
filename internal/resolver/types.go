// Package resolver applies a diagnostic's declared DataRequirements to the
// catalog, producing the candidate execution datasets the solver diffs
// against the execution store (§4.2).
package resolver

import (
	"errors"

	"github.com/climate-eval/coreeval/internal/catalog"
)

// ErrGroupDropped is a sentinel a constraint returns to signal that a group
// failed its predicate and must be dropped from the candidate set (logged at
// info level per §7 — constraint-unsatisfied is not an error).
var ErrGroupDropped = errors.New("resolver: group dropped by constraint")

// ConstraintKind discriminates the four constraint variants of §4.2; modeled
// as a tagged record rather than an interface hierarchy per Design Note §9
// ("tagged variants for constraints and executors").
type ConstraintKind int

const (
	// ConstraintAddSupplementaryDataset attaches a single matching dataset to each group.
	ConstraintAddSupplementaryDataset ConstraintKind = iota
	// ConstraintRequireContiguousTimerange drops groups whose file time_ranges leave a gap.
	ConstraintRequireContiguousTimerange
	// ConstraintRequireOverlappingTimerange drops groups whose sub-group time_ranges don't intersect.
	ConstraintRequireOverlappingTimerange
	// ConstraintSelectSupplementary includes ancillary variables without affecting grouping.
	ConstraintSelectSupplementary
)

type (
	// Constraint is one post-grouping predicate or augmentation, applied in
	// declared order (§4.2 point 4).
	Constraint struct {
		Kind ConstraintKind

		// AddSupplementaryDataset / SelectSupplementary
		TemplatePattern   string // e.g. "{source_id}/areacella"
		TemplateCanonical string

		// RequireContiguousTimerange / RequireOverlappingTimerange
		SubGroupBy []string
	}

	// DataRequirement is one declared dependency of a diagnostic (§4.2).
	DataRequirement struct {
		SourceType string
		Filters    []catalog.Filter
		GroupBy    []string
		Constraints []Constraint
	}

	// Group is one partition of catalog rows sharing identical values on a
	// DataRequirement's GroupBy facets, plus any datasets constraints attach.
	Group struct {
		Key          map[string]string // GroupBy facet values
		Rows         []catalog.Row
		Supplementary []catalog.Row
	}

	// ExecutionCandidate is the resolver's output: the union group_key across
	// all requirements, and the datasets feeding the execution, keyed by
	// source_type (§4.2: "an ExecutionCandidate = {group_key, datasets_by_source_type}").
	ExecutionCandidate struct {
		GroupKeyFacets    []string // union of GroupBy names across requirements, sorted
		GroupKeyValues    map[string]string
		DatasetsBySource  map[string][]catalog.Row
	}
)
