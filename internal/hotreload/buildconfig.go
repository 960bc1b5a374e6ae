package hotreload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/outpostlabs/devtools-core/internal/config"
)

// buildConfigFile is the resolved shape of a package's tsconfig-style
// build config: extends/include/exclude, the same three keys TypeScript's
// own resolver honors. This reuses the type system's own config
// resolution semantics rather than hand-rolling a glob walker; it is
// that resolver's Go-native equivalent, since no actual TypeScript
// compiler is linked into this binary.
type buildConfigFile struct {
	Extends string   `json:"extends,omitempty"`
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// defaultExclude mirrors tsconfig's own implicit default so an `include`-
// only config doesn't pull in node_modules or build output.
var defaultExclude = []string{"node_modules/**", "dist/**", "out/**", "**/*.d.ts"}

// resolveBuildConfig finds a package's build config, preferring a
// `tsconfig.build.*` variant over the bare `tsconfig.*` default, then
// follows its `extends` chain to a merged include/exclude
// set.
func resolveBuildConfig(pkgDir string) (include, exclude []string, err error) {
	path, err := findConfigFile(pkgDir)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool)
	for path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, nil, fmt.Errorf("hotreload: resolve %s: %w", path, err)
		}
		if seen[abs] {
			return nil, nil, fmt.Errorf("hotreload: extends cycle at %s", abs)
		}
		seen[abs] = true

		raw, err := os.ReadFile(abs)
		if err != nil {
			return nil, nil, fmt.Errorf("hotreload: read %s: %w", abs, err)
		}
		var cfg buildConfigFile
		if err := json.Unmarshal(config.StripJSONComments(raw), &cfg); err != nil {
			return nil, nil, fmt.Errorf("hotreload: parse %s: %w", abs, err)
		}

		if len(include) == 0 {
			include = cfg.Include
		}
		if len(exclude) == 0 {
			exclude = cfg.Exclude
		}

		if cfg.Extends == "" {
			break
		}
		path = filepath.Join(filepath.Dir(abs), cfg.Extends)
	}

	if len(include) == 0 {
		include = []string{"**/*.ts", "**/*.tsx"}
	}
	if len(exclude) == 0 {
		exclude = defaultExclude
	}
	return include, exclude, nil
}

// findConfigFile prefers tsconfig.build.json/.jsonc over the bare
// tsconfig.json/.jsonc.
func findConfigFile(pkgDir string) (string, error) {
	candidates := []string{
		"tsconfig.build.json", "tsconfig.build.jsonc",
		"tsconfig.json", "tsconfig.jsonc",
	}
	for _, name := range candidates {
		p := filepath.Join(pkgDir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("hotreload: no build config found under %s", pkgDir)
}

// resolveSourceFiles expands include/exclude glob patterns (anchored at
// pkgDir) into a deterministic, sorted list of package-relative,
// forward-slash paths, via doublestar rather than a hand-rolled walker.
func resolveSourceFiles(pkgDir string, include, exclude []string) ([]string, error) {
	excluded := make(map[string]bool)
	for _, pattern := range exclude {
		matches, err := doublestar.Glob(os.DirFS(pkgDir), pattern)
		if err != nil {
			return nil, fmt.Errorf("hotreload: bad exclude pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			excluded[m] = true
		}
	}

	seen := make(map[string]bool)
	var files []string
	for _, pattern := range include {
		matches, err := doublestar.Glob(os.DirFS(pkgDir), pattern)
		if err != nil {
			return nil, fmt.Errorf("hotreload: bad include pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if excluded[m] || seen[m] {
				continue
			}
			info, err := os.Stat(filepath.Join(pkgDir, m))
			if err != nil || info.IsDir() {
				continue
			}
			seen[m] = true
			files = append(files, filepath.ToSlash(m))
		}
	}

	sort.Strings(files)
	return files, nil
}
