// Package fsutil resolves filesystem paths for the daemon, mainly the
// location of its configuration file.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config file names probed by FindConfig, in order.
var configNames = []string{"poold.yaml", "poold.yml", "poold.toml", "poold.json"}

// ExpandHome replaces a leading '~' with the current user's home directory.
// Paths without the prefix come back unchanged.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// FindConfig locates a config file when none was given explicitly. It probes
// the working directory first, then ~/.config/poold/, and reports the first
// file that exists. The bool is false when nothing was found, which is not
// an error: the daemon runs fine on flags and defaults alone.
func FindConfig() (string, bool) {
	for _, name := range configNames {
		if fileExists(name) {
			return name, true
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	for _, name := range configNames {
		p := filepath.Join(home, ".config", "poold", name)
		if fileExists(p) {
			return p, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
