package childruntime

import (
	"os"
)

// GetRuntimePreference returns the configured container backend preference,
// read from CONTAINER_RUNTIME (e.g. "docker"). "auto" when unset lets the
// caller pick the only backend it has wired (cmd/devtools-host's Docker
// runtime today).
func GetRuntimePreference() string {
	pref := os.Getenv("CONTAINER_RUNTIME")
	if pref == "" {
		return "auto"
	}
	return pref
}
