// Package paths resolves where deepwork keeps its project files.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// DirName is the per-project directory holding config and data.
const DirName = ".deepwork"

// ConfigName is the config file name inside a deepwork directory.
const ConfigName = "config.yaml"

// ResolveProjectDir resolves the .deepwork directory for a project.
//
// Input normalization:
//   - "/path/to/project" -> "/path/to/project/.deepwork"
//   - "/path/to/project/.deepwork" -> "/path/to/project/.deepwork"
//   - "" -> "./.deepwork"
//
// If the directory holds a redirect file, its contents (relative to the
// directory) name the real location. Git worktrees use this to share the
// main worktree's tasks.
func ResolveProjectDir(path string) string {
	if path == "" {
		path = "."
	}
	path = filepath.Clean(path)
	if filepath.Base(path) != DirName {
		path = filepath.Join(path, DirName)
	}
	return followRedirect(path)
}

func followRedirect(dir string) string {
	content, err := os.ReadFile(filepath.Join(dir, "redirect")) //nolint:gosec // redirect path is within the project dir
	if err != nil {
		return dir
	}
	target := strings.TrimSpace(string(content))
	if target == "" {
		return dir
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Clean(filepath.Join(dir, target))
}

// UserConfigDir returns ~/.config/deepwork, or "" without a home directory.
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "deepwork")
}

// ConfigFile picks the config file to edit: explicit if given, then an
// existing project or user file, else the project file.
func ConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	project := filepath.Join(ResolveProjectDir(""), ConfigName)
	candidates := []string{project}
	if dir := UserConfigDir(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, ConfigName))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return project
}
