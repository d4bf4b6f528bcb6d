package resolver

import (
	"errors"
	"sort"

	"github.com/climate-eval/coreeval/internal/catalog"
)

// CatalogQuery performs one filtered catalog query for a DataRequirement's source_type.
type CatalogQuery func(sourceType string, filters []catalog.Filter) ([]catalog.Row, error)

// ResolveRequirement partitions the rows matching req's filters into groups by
// req.GroupBy, then applies req.Constraints in declared order, dropping any
// group a constraint rejects (§4.2).
func ResolveRequirement(req DataRequirement, query CatalogQuery, deps Deps) ([]*Group, error) {
	rows, err := query(req.SourceType, req.Filters)
	if err != nil {
		return nil, err
	}

	grouped := map[string]*Group{}
	order := make([]string, 0)

	for _, r := range rows {
		key := make(map[string]string, len(req.GroupBy))
		for _, f := range req.GroupBy {
			key[f] = r.Facets[f]
		}

		groupKeyStr := groupKeyString(key)

		g, ok := grouped[groupKeyStr]
		if !ok {
			g = &Group{Key: key}
			grouped[groupKeyStr] = g
			order = append(order, groupKeyStr)
		}

		g.Rows = append(g.Rows, r)
	}

	result := make([]*Group, 0, len(order))

	for _, k := range order {
		g := grouped[k]

		dropped := false

		for _, c := range req.Constraints {
			applied, err := c.Apply(g, req.SourceType, deps)
			if err != nil {
				if errors.Is(err, ErrGroupDropped) {
					dropped = true

					break
				}

				return nil, err
			}

			g = applied
		}

		if !dropped {
			result = append(result, g)
		}
	}

	return result, nil
}

func groupKeyString(key map[string]string) string {
	names := make([]string, 0, len(key))
	for n := range key {
		names = append(names, n)
	}

	sort.Strings(names)

	s := ""
	for _, n := range names {
		s += n + "=" + key[n] + "|"
	}

	return s
}

// BuildCandidates forms the Cartesian product of groups across requirements
// (§4.2 point 5): a diagnostic needing CMIP6 + obs4MIPs requirements yields
// one candidate per (CMIP6-group × obs4MIPs-group) combination that survives
// all constraints, with group_key built from the union of GroupBy keys across
// requirements.
func BuildCandidates(reqs []DataRequirement, groupsByReq [][]*Group) []ExecutionCandidate {
	if len(reqs) == 0 {
		return nil
	}

	combos := [][]*Group{{}}

	for _, groups := range groupsByReq {
		var next [][]*Group

		for _, combo := range combos {
			for _, g := range groups {
				extended := append(append([]*Group{}, combo...), g)
				next = append(next, extended)
			}
		}

		combos = next
	}

	candidates := make([]ExecutionCandidate, 0, len(combos))

	for _, combo := range combos {
		values := map[string]string{}
		datasets := map[string][]catalog.Row{}

		for i, g := range combo {
			for k, v := range g.Key {
				values[k] = v
			}

			datasets[reqs[i].SourceType] = append(datasets[reqs[i].SourceType], g.Rows...)
			datasets[reqs[i].SourceType] = append(datasets[reqs[i].SourceType], g.Supplementary...)
		}

		names := make([]string, 0, len(values))
		for n := range values {
			names = append(names, n)
		}

		sort.Strings(names)

		candidates = append(candidates, ExecutionCandidate{
			GroupKeyFacets:   names,
			GroupKeyValues:   values,
			DatasetsBySource: datasets,
		})
	}

	return candidates
}
