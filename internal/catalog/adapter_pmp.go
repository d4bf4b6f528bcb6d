package catalog

import (
	"fmt"
	"path/filepath"
	"strings"
)

func init() {
	RegisterAdapter(&pmpClimatologyAdapter{})
}

// pmpFilenameFields describes the underscore-delimited filename PMP writes
// its precomputed climatology files under: variable_id_source_id_period.nc
// PMP climatologies carry no per-file DRS directory tree; all facets come
// from the filename itself and the version is the containing directory name.
const pmpMinFilenameFields = 3

type pmpClimatologyAdapter struct{}

func (pmpClimatologyAdapter) SourceType() string  { return "pmp-climatology" }
func (pmpClimatologyAdapter) FilePattern() string { return "*.nc" }

func (a pmpClimatologyAdapter) ExtractFileMetadata(path, _ string) (Record, error) {
	base := strings.TrimSuffix(filepath.Base(path), ".nc")
	fields := strings.Split(base, "_")

	if len(fields) < pmpMinFilenameFields {
		return Record{}, fmt.Errorf("%w: %s: expected at least %d underscore-delimited fields",
			ErrInvalidRecord, path, pmpMinFilenameFields)
	}

	facets := map[string]string{
		"variable_id": fields[0],
		"source_id":   fields[1],
		"period":      strings.Join(fields[2:], "_"),
	}

	version := filepath.Base(filepath.Dir(path))

	facets["version"] = version

	return Record{
		Path:       path,
		VariableID: facets["variable_id"],
		Facets:     facets,
	}, nil
}

func (pmpClimatologyAdapter) DeriveDatasetKey(rec Record) (instanceID, version string) {
	instanceID = strings.Join([]string{rec.Facets["variable_id"], rec.Facets["source_id"], rec.Facets["period"]}, ".")

	return instanceID, rec.Facets["version"]
}
