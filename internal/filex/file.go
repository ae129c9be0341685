// Package filex resolves and prepares on-disk locations used by the CLI.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates dir (and parents) if needed and returns its absolute path.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}
	return abs, nil
}

// DataDir returns the per-user data directory for app, creating it if needed.
// It falls back to a dot-directory in the working directory when the OS
// reports no config location.
func DataDir(app string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		cwd, werr := os.Getwd()
		if werr != nil {
			return "", fmt.Errorf("getwd: %w", werr)
		}
		return EnsureDir(filepath.Join(cwd, "."+app))
	}
	return EnsureDir(filepath.Join(base, app))
}

// EnsureParent makes sure the directory containing path exists.
func EnsureParent(path string) error {
	_, err := EnsureDir(filepath.Dir(path))
	return err
}
