package bundle

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ErrLeafNotScalar is returned when a RESULTS leaf (at the depth named by
// DIMENSIONS.json_structure) is an object that is not itself a flat map of
// named statistics — i.e. it nests further, violating "the deepest level
// must be a scalar" (§6, scenario S6).
var ErrLeafNotScalar = fmt.Errorf("%w: RESULTS leaf is not a scalar or flat named-statistic object", ErrInvalidBundle)

// ErrDimensionMismatch is returned when DIMENSIONS.json_structure names a
// facet the diagnostic did not declare, or a declared facet is absent from
// json_structure.
var ErrDimensionMismatch = fmt.Errorf("%w: DIMENSIONS.json_structure does not match declared facets", ErrInvalidBundle)

// Dimensions is the `DIMENSIONS` object of a metric bundle (§6): a fixed
// `json_structure` key naming the RESULTS nesting order, plus one dynamic key
// per facet named there, each mapping that facet's observed values to an
// (empty, in practice) object. It round-trips through a custom
// Marshal/UnmarshalJSON because its key set is only partially fixed.
type Dimensions struct {
	JSONStructure []string
	Facets        map[string]map[string]map[string]any
}

// MarshalJSON flattens Dimensions into `{"json_structure": [...], "<facet>": {...}, ...}`.
func (d Dimensions) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(d.Facets)+1)
	flat["json_structure"] = d.JSONStructure

	for facet, values := range d.Facets {
		flat[facet] = values
	}

	out, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("bundle: marshal dimensions: %w", err)
	}

	return out, nil
}

// UnmarshalJSON splits the flat `DIMENSIONS` object back into JSONStructure
// and the per-facet value maps.
func (d *Dimensions) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage

	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("bundle: unmarshal dimensions: %w", err)
	}

	if raw, ok := flat["json_structure"]; ok {
		if err := json.Unmarshal(raw, &d.JSONStructure); err != nil {
			return fmt.Errorf("bundle: unmarshal json_structure: %w", err)
		}
	}

	d.Facets = make(map[string]map[string]map[string]any, len(flat)-1)

	for key, raw := range flat {
		if key == "json_structure" {
			continue
		}

		var values map[string]map[string]any

		if err := json.Unmarshal(raw, &values); err != nil {
			return fmt.Errorf("bundle: unmarshal dimension %s: %w", key, err)
		}

		d.Facets[key] = values
	}

	return nil
}

// MetricBundle is the `diagnostic.json` envelope (§6).
type MetricBundle struct {
	Dimensions Dimensions     `json:"DIMENSIONS"`
	Results    map[string]any `json:"RESULTS"`
}

// MarshalMetricBundle serializes b, omitting any key whose value is nil
// anywhere in the RESULTS tree — "keys may carry None values, which are
// omitted on serialization" (§6).
func MarshalMetricBundle(b MetricBundle) ([]byte, error) {
	sanitized := MetricBundle{
		Dimensions: b.Dimensions,
		Results:    sanitizeNils(b.Results),
	}

	out, err := json.MarshalIndent(sanitized, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("bundle: marshal metric bundle: %w", err)
	}

	return out, nil
}

// UnmarshalMetricBundle parses a diagnostic.json document. Per the round-trip
// law, the result already has no null-valued keys: both a freshly-sanitized
// write and a subsequent read agree.
func UnmarshalMetricBundle(data []byte) (MetricBundle, error) {
	var b MetricBundle

	if err := json.Unmarshal(data, &b); err != nil {
		return MetricBundle{}, fmt.Errorf("bundle: unmarshal metric bundle: %w", err)
	}

	b.Results = sanitizeNils(b.Results)

	return b, nil
}

// sanitizeNils recursively strips nil-valued map entries so that a bundle
// written then read back is equal to one read directly (§8 round-trip law).
func sanitizeNils(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]any, len(m))

	for k, val := range m {
		if val == nil {
			continue
		}

		if nested, ok := val.(map[string]any); ok {
			out[k] = sanitizeNils(nested)

			continue
		}

		out[k] = val
	}

	return out
}

// ValidateMetricBundle checks b against declaredFacets (the diagnostic's §3
// `facets` list): DIMENSIONS.json_structure must be exactly that set (order
// is the RESULTS nesting order), and every RESULTS leaf at that depth must be
// a scalar or a flat object of named statistics, never a further-nested
// object (scenario S6).
func ValidateMetricBundle(b MetricBundle, declaredFacets []string) error {
	if err := validateDimensionSet(b.Dimensions.JSONStructure, declaredFacets); err != nil {
		return err
	}

	return validateLeaves(b.Results, len(b.Dimensions.JSONStructure))
}

func validateDimensionSet(structure, declared []string) error {
	want := make(map[string]bool, len(declared))
	for _, f := range declared {
		want[f] = true
	}

	got := make(map[string]bool, len(structure))
	for _, f := range structure {
		got[f] = true
	}

	if len(want) != len(got) {
		return ErrDimensionMismatch
	}

	missing := make([]string, 0)

	for f := range want {
		if !got[f] {
			missing = append(missing, f)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)

		return fmt.Errorf("%w: missing %v", ErrDimensionMismatch, missing)
	}

	return nil
}

// validateLeaves walks RESULTS depth levels deep (one level per
// json_structure entry) and checks what remains at the bottom.
func validateLeaves(node any, depth int) error {
	if depth == 0 {
		return validateLeaf(node)
	}

	children, ok := node.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: expected nesting at depth %d, found %T", ErrInvalidBundle, depth, node)
	}

	for _, child := range children {
		if err := validateLeaves(child, depth-1); err != nil {
			return err
		}
	}

	return nil
}

func validateLeaf(node any) error {
	switch v := node.(type) {
	case float64, json.Number, int, int64:
		return nil
	case map[string]any:
		for _, stat := range v {
			switch stat.(type) {
			case float64, json.Number, int, int64:
				continue
			default:
				return ErrLeafNotScalar
			}
		}

		return nil
	default:
		return ErrLeafNotScalar
	}
}
