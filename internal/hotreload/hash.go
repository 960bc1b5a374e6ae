package hotreload

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
)

// PackageRole is the hash store's key: two opaque content-hash strings
// keyed by package role.
type PackageRole string

const (
	RoleExt PackageRole = "ext"
	RoleMCP PackageRole = "mcp"
)

// ContentHash computes the deterministic SHA-256 digest of a package's
// resolved source set: the sorted list of (relative forward-slash path +
// raw file bytes). No mtime, no metadata, no size — content only, so
// renaming a file without touching its bytes changes the digest (the
// path is part of the hashed content) while touching mtime alone never
// does.
func ContentHash(pkgDir string, relPaths []string) (string, error) {
	h := sha256.New()
	for _, rel := range relPaths {
		h.Write([]byte(rel))
		data, err := os.ReadFile(filepath.Join(pkgDir, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// computePackageHash resolves a package's build config, expands its
// source set, and hashes it in one step.
func computePackageHash(pkgDir string) (string, error) {
	include, exclude, err := resolveBuildConfig(pkgDir)
	if err != nil {
		return "", err
	}
	files, err := resolveSourceFiles(pkgDir, include, exclude)
	if err != nil {
		return "", err
	}
	return ContentHash(pkgDir, files)
}
