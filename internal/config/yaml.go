package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flarebyte/fabrik/internal/plan"
)

// ParseYAML reads a .yaml plan with the same schema as the CUE form.
// Unknown keys are rejected.
func ParseYAML(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, plan.Errorf("failed to read plan: %v", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, plan.Errorf("invalid plan: empty document")
		}
		return File{}, plan.Errorf("invalid plan: %v", err)
	}
	if f.ConfigVersion == "" {
		return File{}, plan.Errorf("missing required field: configVersion")
	}
	if f.Phases == nil {
		return File{}, plan.Errorf("missing required field: phases")
	}
	return f, nil
}
