// Package diagnostic declares the plugin contract providers implement (§6)
// and the static registry the solver and executor consult to find them.
// Providers register at process start from a fixed, compile-time list —
// never via runtime code-loading (Design Note §9: "plugin discovery without
// dynamic import").
package diagnostic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/climate-eval/coreeval/internal/bundle"
	"github.com/climate-eval/coreeval/internal/catalog"
	"github.com/climate-eval/coreeval/internal/resolver"
)

// ErrNotRegistered is returned when a (provider, diagnostic) slug pair is not
// in the registry.
var ErrNotRegistered = errors.New("diagnostic: not registered")

// Definition is what an executor hands a diagnostic's Execute call: its
// resolved inputs and the directories it must write under (§6 plugin
// contract: "execute(definition) -> void").
type Definition struct {
	DatasetsBySource map[string][]catalog.Row
	GroupKeyFacets   map[string]string
	OutputDirectory  string
	ScratchDirectory string
	LogSink          func(line string)
}

// Diagnostic is one named unit of analysis a Provider registers (§3, §6).
// Code lives entirely in the provider; the core only ever calls through this
// interface.
type Diagnostic interface {
	// Slug is this diagnostic's identifier within its provider.
	Slug() string
	// DataRequirements declares what datasets this diagnostic consumes, how
	// they are grouped, and what must hold across them (§4.2).
	DataRequirements() []resolver.DataRequirement
	// Facets lists the facet names this diagnostic emits on metric values.
	Facets() []string
	// Execute runs the diagnostic, writing files under definition.OutputDirectory.
	// The opaque unit the executor invokes in-process or in a subprocess (§4.5).
	Execute(ctx context.Context, definition Definition) error
	// BuildExecutionResult reads back what Execute wrote and assembles the
	// CMEC output and metric bundles (§6).
	BuildExecutionResult(definition Definition) (bundle.OutputBundle, bundle.MetricBundle, error)
}

// Provider is a plugin registering one or more Diagnostics, named and
// versioned (§6: "a provider registers by name and version").
type Provider struct {
	Slug        string
	Version     string
	Diagnostics []Diagnostic
}

// registryKey identifies one diagnostic by (provider_slug, diagnostic_slug),
// the pair §3 names as the Diagnostic entity's natural key.
type registryKey struct {
	provider, diagnostic string
}

var (
	registryMu sync.RWMutex
	registry   = map[registryKey]registered{}
	providers  []Provider
)

type registered struct {
	provider Provider
	d        Diagnostic
}

// RegisterProvider adds a Provider and all its Diagnostics to the static
// registry. Called from package init functions in a build-time manifest —
// see internal/diagnostic/manifest.go.
func RegisterProvider(p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()

	providers = append(providers, p)

	for _, d := range p.Diagnostics {
		registry[registryKey{provider: p.Slug, diagnostic: d.Slug()}] = registered{provider: p, d: d}
	}
}

// Lookup finds a registered Diagnostic by its owning provider and diagnostic slug.
func Lookup(providerSlug, diagnosticSlug string) (Diagnostic, Provider, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	r, ok := registry[registryKey{provider: providerSlug, diagnostic: diagnosticSlug}]
	if !ok {
		return nil, Provider{}, fmt.Errorf("%w: %s/%s", ErrNotRegistered, providerSlug, diagnosticSlug)
	}

	return r.d, r.provider, nil
}

// All returns every (provider_slug, diagnostic_slug, Diagnostic) currently
// registered, in registration order — what the solver iterates over.
func All() []struct {
	ProviderSlug   string
	DiagnosticSlug string
	Diagnostic     Diagnostic
} {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]struct {
		ProviderSlug   string
		DiagnosticSlug string
		Diagnostic     Diagnostic
	}, 0, len(registry))

	for _, p := range providers {
		for _, d := range p.Diagnostics {
			out = append(out, struct {
				ProviderSlug   string
				DiagnosticSlug string
				Diagnostic     Diagnostic
			}{ProviderSlug: p.Slug, DiagnosticSlug: d.Slug(), Diagnostic: d})
		}
	}

	return out
}

// Matching reports the (provider, diagnostic) slug pairs passing the
// case-sensitive substring filters §4.3 describes ("Supports filtering by
// provider / diagnostic slug (substring match, case-sensitive)").
func Matching(providerSubstr, diagnosticSubstr string) []struct {
	ProviderSlug   string
	DiagnosticSlug string
	Diagnostic     Diagnostic
} {
	var out []struct {
		ProviderSlug   string
		DiagnosticSlug string
		Diagnostic     Diagnostic
	}

	for _, e := range All() {
		if providerSubstr != "" && !strings.Contains(e.ProviderSlug, providerSubstr) {
			continue
		}

		if diagnosticSubstr != "" && !strings.Contains(e.DiagnosticSlug, diagnosticSubstr) {
			continue
		}

		out = append(out, e)
	}

	return out
}
