package resolver

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/climate-eval/coreeval/internal/catalog"
)

// Deps bundles the catalog-facing lookups a Constraint needs, injected so
// Apply stays a pure function of (group, deps) and is trivially testable
// without a live database.
type Deps struct {
	// FindByInstanceID looks up active rows of the given source_type whose
	// instance_id equals the resolved template value (AddSupplementaryDataset,
	// SelectSupplementary).
	FindByInstanceID func(sourceType, instanceID string) ([]catalog.Row, error)
	// FileTimeRanges returns all File.TimeRange values for a dataset.
	FileTimeRanges func(datasetID int64) ([]catalog.TimeRange, error)
}

// Apply runs one constraint against a Group, returning the (possibly
// augmented) group, or ErrGroupDropped if the group fails the predicate.
// Constraints are applied in declared order (§4.2).
func (c Constraint) Apply(g *Group, sourceType string, deps Deps) (*Group, error) {
	switch c.Kind {
	case ConstraintAddSupplementaryDataset:
		return c.applySupplementary(g, sourceType, deps, true)
	case ConstraintSelectSupplementary:
		return c.applySupplementary(g, sourceType, deps, false)
	case ConstraintRequireContiguousTimerange:
		return c.applyContiguous(g, deps)
	case ConstraintRequireOverlappingTimerange:
		return c.applyOverlapping(g, deps)
	default:
		return g, fmt.Errorf("resolver: unknown constraint kind %d", c.Kind)
	}
}

func (c Constraint) applySupplementary(g *Group, sourceType string, deps Deps, required bool) (*Group, error) {
	tr := NewTemplateResolver(c.TemplatePattern, c.TemplateCanonical)

	instanceID := tr.Resolve(g.Key)

	matches, err := deps.FindByInstanceID(sourceType, instanceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: find supplementary dataset: %w", err)
	}

	switch len(matches) {
	case 1:
		g.Supplementary = append(g.Supplementary, matches[0])

		return g, nil
	case 0:
		if required {
			slog.Info("resolver: dropping group, supplementary dataset missing",
				slog.String("instance_id", instanceID))

			return nil, fmt.Errorf("%w: supplementary dataset %s not found", ErrGroupDropped, instanceID)
		}

		return g, nil
	default:
		if required {
			return nil, fmt.Errorf("%w: supplementary dataset %s ambiguous (%d matches)",
				ErrGroupDropped, instanceID, len(matches))
		}

		return g, nil
	}
}

// applyContiguous drops groups whose union of file time_ranges, within each
// sub-group named by SubGroupBy, leaves a gap between the overall min and max.
func (c Constraint) applyContiguous(g *Group, deps Deps) (*Group, error) {
	for subKey, rows := range subGroup(g.Rows, c.SubGroupBy) {
		ranges, err := collectRanges(rows, deps)
		if err != nil {
			return nil, err
		}

		if len(ranges) == 0 {
			continue
		}

		if hasGap(ranges) {
			slog.Info("resolver: dropping group, time range not contiguous", slog.String("sub_group", subKey))

			return nil, fmt.Errorf("%w: time range gap in %s", ErrGroupDropped, subKey)
		}
	}

	return g, nil
}

// applyOverlapping drops groups whose sub-group time_ranges share no common intersection.
func (c Constraint) applyOverlapping(g *Group, deps Deps) (*Group, error) {
	var intersectStart, intersectEnd catalog.TimeRange
	first := true

	for subKey, rows := range subGroup(g.Rows, c.SubGroupBy) {
		ranges, err := collectRanges(rows, deps)
		if err != nil {
			return nil, err
		}

		span := unionSpan(ranges)
		if span == nil {
			continue
		}

		if first {
			intersectStart, intersectEnd = *span, *span
			first = false

			continue
		}

		if span.Start.After(intersectStart.Start) {
			intersectStart.Start = span.Start
		}

		if span.End.Before(intersectEnd.End) {
			intersectEnd.End = span.End
		}

		if !intersectStart.Start.Before(intersectEnd.End) {
			slog.Info("resolver: dropping group, time ranges do not overlap", slog.String("sub_group", subKey))

			return nil, fmt.Errorf("%w: non-overlapping time ranges", ErrGroupDropped)
		}
	}

	return g, nil
}

func subGroup(rows []catalog.Row, by []string) map[string][]catalog.Row {
	out := map[string][]catalog.Row{}

	for _, r := range rows {
		key := ""
		for _, f := range by {
			key += f + "=" + r.Facets[f] + "|"
		}

		out[key] = append(out[key], r)
	}

	return out
}

func collectRanges(rows []catalog.Row, deps Deps) ([]catalog.TimeRange, error) {
	var all []catalog.TimeRange

	for _, r := range rows {
		ranges, err := deps.FileTimeRanges(r.DatasetID)
		if err != nil {
			return nil, fmt.Errorf("resolver: file time ranges for dataset %d: %w", r.DatasetID, err)
		}

		all = append(all, ranges...)
	}

	return all, nil
}

// hasGap reports whether the union of ranges, once sorted and merged, leaves
// a gap inside [min(start), max(end)); it returns false when they cover it.
func hasGap(ranges []catalog.TimeRange) bool {
	sorted := make([]catalog.TimeRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	cursor := sorted[0].End

	for _, r := range sorted[1:] {
		if r.Start.After(cursor) {
			return true
		}

		if r.End.After(cursor) {
			cursor = r.End
		}
	}

	return false
}

func unionSpan(ranges []catalog.TimeRange) *catalog.TimeRange {
	if len(ranges) == 0 {
		return nil
	}

	span := ranges[0]

	for _, r := range ranges[1:] {
		if r.Start.Before(span.Start) {
			span.Start = r.Start
		}

		if r.End.After(span.End) {
			span.End = r.End
		}
	}

	return &span
}
