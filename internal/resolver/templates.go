package resolver

import (
	"log/slog"
	"regexp"
	"strings"
)

// compiledTemplate holds a pre-compiled regex pattern and its canonical
// substitution template, the same compile-once-then-match shape as the
// teacher's aliasing.Resolver, generalized here from dataset URNs to facet
// value templates (e.g. "{source_id}/areacella").
type compiledTemplate struct {
	regex     *regexp.Regexp
	canonical string
}

// templateVariableRegex matches {name} placeholders in a template string.
var templateVariableRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// compileTemplate converts "{source_id}/areacella" into a regex capturing
// source_id and a literal match on "/areacella".
func compileTemplate(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	result := escaped

	for _, m := range templateVariableRegex.FindAllStringSubmatch(pattern, -1) {
		fullMatch, varName := m[0], m[1]
		captureGroup := "(?P<" + varName + ">[^/]+)"
		result = strings.Replace(result, regexp.QuoteMeta(fullMatch), captureGroup, 1)
	}

	return regexp.Compile("^" + result + "$")
}

// TemplateResolver matches a facet tuple against a declared template and
// reports the canonical instance_id it should resolve to.
type TemplateResolver struct {
	tmpl compiledTemplate
}

// NewTemplateResolver compiles one AddSupplementaryDataset/SelectSupplementary
// template. Returns nil (a no-op) if the pattern fails to compile, logging a
// warning — identical fail-soft behavior to the teacher's NewResolver.
func NewTemplateResolver(pattern, canonical string) *TemplateResolver {
	regex, err := compileTemplate(pattern)
	if err != nil {
		slog.Warn("resolver: skipping invalid supplementary-dataset template",
			slog.String("pattern", pattern), slog.String("error", err.Error()))

		return nil
	}

	return &TemplateResolver{tmpl: compiledTemplate{regex: regex, canonical: canonical}}
}

// Resolve substitutes group facet values into the canonical template,
// returning the instance_id to search the catalog for, e.g. group {source_id:
// "ACCESS-ESM1-5"} with canonical "{source_id}.areacella" -> "ACCESS-ESM1-5.areacella".
func (t *TemplateResolver) Resolve(groupFacets map[string]string) string {
	if t == nil {
		return ""
	}

	result := t.tmpl.canonical

	for _, name := range t.tmpl.regex.SubexpNames() {
		if name == "" {
			continue
		}

		if v, ok := groupFacets[name]; ok {
			result = strings.ReplaceAll(result, "{"+name+"}", v)
		}
	}

	return result
}
