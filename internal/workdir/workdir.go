// Package workdir resolves the ct data root: the directory holding .ct/,
// with support for redirecting to a shared location via a .ct-root file.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	rootFile = ".ct-root"
	// EnvHome overrides the data root when no --dir flag is given.
	EnvHome = "CT_HOME"
)

// Resolve picks the data root: the explicit dir, else $CT_HOME, else the
// user's home directory. The result is followed through a .ct-root file.
func Resolve(dir string) (string, error) {
	if dir == "" {
		dir = os.Getenv(EnvHome)
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = home
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	return ResolveBaseDir(abs), nil
}

// ResolveBaseDir checks for a .ct-root file in baseDir. If found, it
// returns the path it contains; relative paths are taken from baseDir.
// Otherwise baseDir is returned unchanged. Lets several checkouts or
// profiles share one event log.
func ResolveBaseDir(baseDir string) string {
	content, err := os.ReadFile(filepath.Join(baseDir, rootFile))
	if err != nil {
		return baseDir
	}
	resolved := strings.TrimSpace(string(content))
	if resolved == "" {
		return baseDir
	}
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(baseDir, resolved)
	}
	return filepath.Clean(resolved)
}
