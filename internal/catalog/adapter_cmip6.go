package catalog

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

func init() {
	RegisterAdapter(&cmip6Adapter{})
}

// cmip6DRSSegments names the path segments of a CMIP6 DRS-compliant directory
// tree, from the root given to Ingest down to the file: .../activity_id/
// institution_id/source_id/experiment_id/member_id/table_id/variable_id/
// grid_label/version/filename.nc
var cmip6DRSSegments = []string{
	"activity_id", "institution_id", "source_id", "experiment_id",
	"member_id", "table_id", "variable_id", "grid_label", "version",
}

// cmip6FilenameTimeRange matches the optional "_<start>-<end>" suffix CMOR
// appends to CMIP6 filenames, e.g. "tas_Amon_..._185001-201412.nc".
var cmip6FilenameTimeRange = regexp.MustCompile(`_(\d{6,8})-(\d{6,8})\.nc$`)

type cmip6Adapter struct{}

func (cmip6Adapter) SourceType() string  { return "cmip6" }
func (cmip6Adapter) FilePattern() string { return "*.nc" }

// ExtractFileMetadata extracts facets either from the DRS path layout
// ("drs" parser, no file I/O) or — not implemented here, since netCDF
// attribute reading is outside this module's scope — falls back to the DRS
// parse for "complete" as well, logging nothing: a real "complete" parser
// would additionally open the file and cross-check global attributes.
func (a cmip6Adapter) ExtractFileMetadata(path, parser string) (Record, error) {
	facets, err := a.facetsFromPath(path)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s: %w", ErrInvalidRecord, path, err)
	}

	rec := Record{
		Path:       path,
		VariableID: facets["variable_id"],
		Facets:     facets,
	}

	if tr := a.timeRangeFromFilename(path); tr != nil {
		rec.TimeRange = tr
	}

	return rec, nil
}

func (cmip6Adapter) facetsFromPath(path string) (map[string]string, error) {
	dir := filepath.Dir(path)
	segments := strings.Split(filepath.ToSlash(dir), "/")

	if len(segments) < len(cmip6DRSSegments) {
		return nil, fmt.Errorf("path has fewer than %d DRS segments: %s", len(cmip6DRSSegments), path)
	}

	tail := segments[len(segments)-len(cmip6DRSSegments):]
	facets := make(map[string]string, len(cmip6DRSSegments))

	for i, name := range cmip6DRSSegments {
		facets[name] = tail[i]
	}

	return facets, nil
}

func (cmip6Adapter) timeRangeFromFilename(path string) *TimeRange {
	m := cmip6FilenameTimeRange.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil
	}

	start, ok1 := parseCMIP6Timestamp(m[1])
	end, ok2 := parseCMIP6Timestamp(m[2])

	if !ok1 || !ok2 {
		return nil
	}

	return &TimeRange{Start: start, End: end}
}

// parseCMIP6Timestamp parses the compact YYYYMM or YYYYMMDD form CMOR uses in
// filenames into a time.Time; returns ok=false on malformed input rather than
// failing the whole file (time_range is optional per §3).
func parseCMIP6Timestamp(s string) (t time.Time, ok bool) {
	year, err := strconv.Atoi(s[:4])
	if err != nil {
		return time.Time{}, false
	}

	month := 1
	if len(s) >= 6 {
		if m, err := strconv.Atoi(s[4:6]); err == nil {
			month = m
		}
	}

	day := 1
	if len(s) >= 8 {
		if d, err := strconv.Atoi(s[6:8]); err == nil {
			day = d
		}
	}

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// DeriveDatasetKey computes the instance_id from all facets except version,
// joined in DRS order, and returns the version segment as-is.
func (cmip6Adapter) DeriveDatasetKey(rec Record) (instanceID, version string) {
	var b strings.Builder

	for _, name := range cmip6DRSSegments {
		if name == "version" {
			continue
		}

		b.WriteString(rec.Facets[name])
		b.WriteByte('.')
	}

	return strings.TrimSuffix(b.String(), "."), rec.Facets["version"]
}
