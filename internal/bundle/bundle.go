// Package bundle implements the CMEC-compatible output and metric bundle
// envelopes of §6: marshaling, reading back, and the structural validation
// §8's round-trip laws and scenario S6 require — no per-diagnostic science,
// just the wire format every provider's Diagnostic.BuildExecutionResult
// produces and every Store.RecordMetricValues call validates against.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
)

// OutputFilename and MetricFilename are the fixed filenames §6 mandates
// under an execution's output directory.
const (
	OutputFilename = "output.json"
	MetricFilename = "diagnostic.json"
)

// ErrInvalidBundle is the umbrella sentinel for structural violations of the
// CMEC envelopes; wrapped with specifics via fmt.Errorf("%w: ...").
var ErrInvalidBundle = errors.New("bundle: invalid CMEC bundle")

type (
	// FileEntry describes one named file referenced from an OutputBundle's
	// data/plots/html/metrics maps (§6).
	FileEntry struct {
		Filename    string `json:"filename"`
		Description string `json:"description,omitempty"`
		LongName    string `json:"long_name,omitempty"`
	}

	// Provenance records what produced an Execution's outputs (§6).
	Provenance struct {
		Environment map[string]any `json:"environment"`
		ModelData   []any          `json:"modeldata"`
		ObsData     map[string]any `json:"obsdata"`
		Log         string         `json:"log"`
	}

	// OutputBundle is the `output.json` envelope (§6).
	OutputBundle struct {
		Provenance Provenance           `json:"provenance"`
		Index      string               `json:"index,omitempty"`
		Data       map[string]FileEntry `json:"data,omitempty"`
		Plots      map[string]FileEntry `json:"plots,omitempty"`
		HTML       map[string]FileEntry `json:"html,omitempty"`
		Metrics    map[string]FileEntry `json:"metrics,omitempty"`
	}
)

// MarshalOutputBundle serializes b as-is: empty sections are omitted through
// their omitempty tags, but individual map entries are not filtered, so a
// zero-value FileEntry is written out like any other.
func MarshalOutputBundle(b OutputBundle) ([]byte, error) {
	out, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("bundle: marshal output bundle: %w", err)
	}

	return out, nil
}

// UnmarshalOutputBundle parses an output.json document.
func UnmarshalOutputBundle(data []byte) (OutputBundle, error) {
	var b OutputBundle

	if err := json.Unmarshal(data, &b); err != nil {
		return OutputBundle{}, fmt.Errorf("bundle: unmarshal output bundle: %w", err)
	}

	return b, nil
}
