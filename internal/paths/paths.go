// Package paths provides centralized path resolution for chatgate.
// This package has NO internal imports (only stdlib) to avoid import cycles.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigNames are the file names probed in the working directory, in order.
var ConfigNames = []string{"chatgate.json", "chatgate.toml", "chatgate.yaml", "chatgate.yml"}

// BaseDir returns the chatgate base directory (~/.chatgate).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".chatgate"), nil
}

// DataPath returns a path within the chatgate data directory (~/.chatgate/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active config path.
// Priority: explicit > ./chatgate.{json,toml,yaml,yml} > ~/.chatgate/chatgate.json
// Returns ("", nil) if no config exists - this is a valid state, not an error.
func ConfigPath(explicit string) (string, error) {
	if explicit != "" {
		p, err := ExpandHome(explicit)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config file %s: %w", p, err)
		}
		return filepath.Abs(p)
	}

	for _, name := range ConfigNames {
		if _, err := os.Stat(name); err == nil {
			return filepath.Abs(name)
		}
	}

	globalPath, err := DefaultConfigPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", nil
}

// DefaultConfigPath returns the default location for new configs (~/.chatgate/chatgate.json).
func DefaultConfigPath() (string, error) {
	return DataPath("chatgate.json")
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
