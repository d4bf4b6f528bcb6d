package catalog

import "sync"

// Adapter is the polymorphic strategy a source type implements so that the
// rest of the catalog remains source-type-agnostic (§4.1). A new source type
// is added by registering one Adapter; nothing else changes.
type Adapter interface {
	// SourceType is the enumeration value this adapter handles (e.g. "cmip6").
	SourceType() string
	// FilePattern is the glob suffix Ingest walks for (e.g. "*.nc").
	FilePattern() string
	// ExtractFileMetadata parses one file into a Record. The parser option
	// (IngestOptions.Parser) is adapter-specific; cmip6 distinguishes "drs"
	// (path-segment parsing) from "complete" (full attribute read).
	ExtractFileMetadata(path, parser string) (Record, error)
	// DeriveDatasetKey computes the stable instance_id and this record's version.
	DeriveDatasetKey(rec Record) (instanceID, version string)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Adapter{}
)

// RegisterAdapter adds an Adapter to the static registry consulted by Ingest
// and Query. Registration happens at package init time (Design Note §9:
// "plugin discovery without dynamic import") — never at runtime from
// user-supplied code.
func RegisterAdapter(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[a.SourceType()] = a
}

// AdapterFor looks up a registered Adapter by source_type.
func AdapterFor(sourceType string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	a, ok := registry[sourceType]

	return a, ok
}
