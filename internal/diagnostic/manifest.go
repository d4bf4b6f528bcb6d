package diagnostic

// Manifest is the build-time list of providers this binary links in. A real
// deployment's manifest imports one package per provider for its blank-import
// init() side effect (each calling RegisterProvider); this repository ships
// no concrete providers of its own — those are supplied by the diagnostic
// packages that import github.com/climate-eval/coreeval/internal/diagnostic,
// per §1's scoping of "the diagnostics themselves" as an external
// collaborator. Tests register fixture providers directly via
// RegisterProvider.
var Manifest []string
