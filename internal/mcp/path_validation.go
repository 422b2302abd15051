package mcp

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveDefinitionPath maps a definition name to a YAML file inside baseDir.
func resolveDefinitionPath(baseDir, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("definition name is required")
	}
	if strings.Contains(name, string(filepath.Separator)) || strings.Contains(name, "/") {
		return "", fmt.Errorf("path separators are not allowed")
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("path traversal is not allowed")
	}
	if !strings.HasSuffix(name, ".yaml") {
		name += ".yaml"
	}
	return resolvePathWithinBase(baseDir, name)
}

func resolvePathWithinBase(baseDir, pathValue string) (string, error) {
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	targetAbs, err := filepath.Abs(filepath.Join(baseAbs, pathValue))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	rel, err := filepath.Rel(baseAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path must be within definitions directory")
	}
	return targetAbs, nil
}
