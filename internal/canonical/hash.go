// Package canonical implements the canonical-form hashing contract mandated
// by the evaluation engine's solver: deterministic, sorted, SHA-256-derived
// identifiers for groups and executions that must be reproducible across
// processes, machines, and insertion orders.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// DatasetKey is the (source_type, instance_id, version) triple that identifies
// one concrete dataset version for hashing purposes.
type DatasetKey struct {
	SourceType string
	InstanceID string
	Version    string
}

// FacetValue is one (facet name, value) pair contributing to a group key.
type FacetValue struct {
	Facet string
	Value string
}

// DatasetHash computes the SHA-256 over the sorted (source_type, instance_id,
// version) triples of the given datasets. Ordering is stable by
// (source_type asc, instance_id asc) per Design Note §9 — callers must not
// rely on input order; DatasetHash sorts internally.
func DatasetHash(datasets []DatasetKey) string {
	sorted := make([]DatasetKey, len(datasets))
	copy(sorted, datasets)

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].SourceType != sorted[j].SourceType {
			return sorted[i].SourceType < sorted[j].SourceType
		}

		return sorted[i].InstanceID < sorted[j].InstanceID
	})

	var b strings.Builder

	for _, d := range sorted {
		b.WriteString(d.SourceType)
		b.WriteByte('\t')
		b.WriteString(d.InstanceID)
		b.WriteByte('\t')
		b.WriteString(d.Version)
		b.WriteByte('\n')
	}

	return hashSHA256(b.String())
}

// GroupKey builds the stable, sorted group-key string for a set of
// (facet, value) pairs: alphabetical by facet name, with the literal pairs
// joined for a bit-identical identifier across runs. The returned slice is
// sorted and can be serialized directly as the ExecutionGroup.group_key
// column value.
func GroupKey(pairs []FacetValue) []FacetValue {
	sorted := make([]FacetValue, len(pairs))
	copy(sorted, pairs)

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Facet < sorted[j].Facet
	})

	return sorted
}

// GroupKeyString renders a sorted GroupKey as the canonical string used for
// uniqueness constraints and log messages: "facet=value" pairs joined by "|".
func GroupKeyString(pairs []FacetValue) string {
	sorted := GroupKey(pairs)

	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = p.Facet + "=" + p.Value
	}

	return strings.Join(parts, "|")
}

func hashSHA256(input string) string {
	sum := sha256.Sum256([]byte(input))

	return hex.EncodeToString(sum[:])
}
