package catalog

import (
	"fmt"
	"path/filepath"
	"strings"
)

func init() {
	RegisterAdapter(&obs4mipsAdapter{})
}

// obs4mipsDRSSegments mirrors the CMIP6 DRS shape but with obs4MIPs' own
// facet vocabulary: .../institution_id/source_id/variable_id/grid_label/version/filename.nc
var obs4mipsDRSSegments = []string{"institution_id", "source_id", "variable_id", "grid_label", "version"}

type obs4mipsAdapter struct{}

func (obs4mipsAdapter) SourceType() string  { return "obs4mips" }
func (obs4mipsAdapter) FilePattern() string { return "*.nc" }

func (a obs4mipsAdapter) ExtractFileMetadata(path, _ string) (Record, error) {
	dir := filepath.Dir(path)
	segments := strings.Split(filepath.ToSlash(dir), "/")

	if len(segments) < len(obs4mipsDRSSegments) {
		return Record{}, fmt.Errorf("%w: %s: fewer than %d DRS segments", ErrInvalidRecord, path, len(obs4mipsDRSSegments))
	}

	tail := segments[len(segments)-len(obs4mipsDRSSegments):]
	facets := make(map[string]string, len(obs4mipsDRSSegments))

	for i, name := range obs4mipsDRSSegments {
		facets[name] = tail[i]
	}

	return Record{
		Path:       path,
		VariableID: facets["variable_id"],
		Facets:     facets,
	}, nil
}

func (obs4mipsAdapter) DeriveDatasetKey(rec Record) (instanceID, version string) {
	var b strings.Builder

	for _, name := range obs4mipsDRSSegments {
		if name == "version" {
			continue
		}

		b.WriteString(rec.Facets[name])
		b.WriteByte('.')
	}

	return strings.TrimSuffix(b.String(), "."), rec.Facets["version"]
}
