package testrun

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed examples/*.yaml
var embeddedExamples embed.FS

// Load loads a definition from a YAML file. When no file exists at nameOrPath
// it is looked up by name among the embedded examples.
func Load(nameOrPath string) (*Definition, error) {
	if info, err := os.Stat(nameOrPath); err == nil && !info.IsDir() {
		data, err := os.ReadFile(nameOrPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read definition %q: %w", nameOrPath, err)
		}
		return Parse(data)
	}

	return LoadExample(nameOrPath)
}

// LoadExample loads an embedded example definition by name. It never touches the filesystem.
func LoadExample(name string) (*Definition, error) {
	name = strings.TrimSuffix(name, ".yaml")
	// embed.FS always uses forward slashes.
	data, err := fs.ReadFile(embeddedExamples, path.Join("examples", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("definition %q not found: %w", name, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML definition. Unknown fields are rejected.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	return &def, nil
}

// Examples returns the names of the embedded example definitions.
func Examples() ([]string, error) {
	entries, err := fs.ReadDir(embeddedExamples, "examples")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names, nil
}
