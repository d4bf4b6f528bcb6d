// Package store implements the transactional execution lifecycle store of
// §4.4: ExecutionGroups, Executions, their input datasets, outputs, and
// metric values, over PostgreSQL.
package store

import (
	"errors"
	"time"
)

// Status is an Execution's position in the state machine of §4.5:
// pending -> running -> {succeeded, failed, cancelled}; failed -> pending
// only via explicit retry; no direct pending -> succeeded.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// validTransitions enumerates every state machine edge, mirroring the
// teacher's ValidateStateTransition table-driven shape.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusCancelled},
	StatusFailed:  {StatusPending}, // explicit retry only
}

// ErrInvalidTransition is returned when a requested status change is not a legal edge.
var ErrInvalidTransition = errors.New("store: invalid execution status transition")

// ErrConflict is returned when a compare-and-set update affected zero rows
// because another writer already moved the row out from under the caller.
var ErrConflict = errors.New("store: concurrent status transition conflict")

// ErrAbsoluteOutputPath is returned by RecordOutputs when a manifest entry names an absolute path.
var ErrAbsoluteOutputPath = errors.New("store: output manifest path must be relative")

// ErrUnknownFacet is returned when a metric value declares a facet the diagnostic did not register.
var ErrUnknownFacet = errors.New("store: metric value has undeclared facet")

// ErrMissingFacet is returned when a metric value omits a facet the diagnostic declared.
var ErrMissingFacet = errors.New("store: metric value missing declared facet")

// ValidateTransition reports whether moving an Execution from `from` to `to`
// is a legal state-machine edge.
func ValidateTransition(from, to Status) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

type (
	// ExecutionGroup is the identity of "this diagnostic for this facet
	// combination" (§3). (DiagnosticID, GroupKey) is unique.
	ExecutionGroup struct {
		ID                 int64
		DiagnosticID       int64
		GroupKey           string // canonical.GroupKeyString output
		GroupKeyFacets     map[string]string
		Dirty              bool
		LatestExecutionID  *int64
		Stale              bool
	}

	// Execution is one concrete run of a diagnostic on a snapshot of input datasets.
	Execution struct {
		ID          int64
		GroupID     int64
		DatasetHash string
		Status      Status
		StartedAt   *time.Time
		FinishedAt  *time.Time
		OutputDir   string
		LogPath     string
		RetryCount  int
		Reason      string // human-readable failure reason, e.g. "lost worker"
	}

	// ExecutionInput is a many-to-many row between Execution and Dataset, with
	// the recorded version at submission time (Testable Property 4).
	ExecutionInput struct {
		ExecutionID int64
		DatasetID   int64
		InstanceID  string
		Version     string
		SourceType  string
	}

	// OutputType enumerates the file kinds §3 allows for ExecutionOutput.
	OutputType string

	// ManifestEntry is one file an executor reports via record_outputs (§4.4).
	ManifestEntry struct {
		RelativePath string
		Type         OutputType
		MIMEType     string
		Description  string
	}

	// ExecutionOutput is a persisted file produced by a successful Execution.
	ExecutionOutput struct {
		ID           int64
		ExecutionID  int64
		RelativePath string
		Type         OutputType
		MIMEType     string
		Description  string
	}

	// MetricValue is one scalar metric carrying the diagnostic's declared facets.
	MetricValue struct {
		ID          int64
		ExecutionID int64
		Facets      map[string]string
		Value       float64
	}

	// SeriesMetricValue is one 1-D array metric with its index values.
	SeriesMetricValue struct {
		ID          int64
		ExecutionID int64
		Facets      map[string]string
		Index       []float64
		Values      []float64
	}
)

const (
	OutputHTML OutputType = "html"
	OutputNC   OutputType = "nc"
	OutputCSV  OutputType = "csv"
	OutputPNG  OutputType = "png"
	OutputJSON OutputType = "json"
	OutputLog  OutputType = "log"
)
