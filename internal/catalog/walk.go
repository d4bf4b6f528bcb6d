package catalog

import (
	"io/fs"
	"path/filepath"
)

// walkMatch recursively walks root and collects files whose base name matches
// pattern (a simple glob like "*.nc"). CMIP6/obs4MIPs/PMP trees nest data
// many directories deep under the given root, deeper than filepath.Glob's
// single-level wildcard can express.
func walkMatch(root, pattern string) ([]string, error) {
	var matches []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err //nolint:wrapcheck // caller wraps with context
		}

		if d.IsDir() {
			return nil
		}

		ok, matchErr := filepath.Match(pattern, filepath.Base(path))
		if matchErr != nil {
			return matchErr //nolint:wrapcheck
		}

		if ok {
			matches = append(matches, path)
		}

		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return matches, nil
}
