package config

import (
	"cuelang.org/go/cue"

	"github.com/flarebyte/fabrik/internal/plan"
)

// ParseCUE reads a .cue plan. configVersion and phases are required.
func ParseCUE(path string) (File, error) {
	v, err := compileCUE(path)
	if err != nil {
		return File{}, plan.Errorf("%v", err)
	}
	if err := requireStringField(v, "configVersion"); err != nil {
		return File{}, plan.Errorf("%v", err)
	}
	if err := requireListField(v, "phases"); err != nil {
		return File{}, plan.Errorf("%v", err)
	}
	if jv := v.LookupPath(cue.ParsePath("jobs")); jv.Exists() && jv.Kind() != cue.IntKind {
		return File{}, plan.Errorf("invalid type for field: jobs (expected int)")
	}
	var f File
	if err := v.Decode(&f); err != nil {
		return File{}, plan.Errorf("invalid plan: %v", err)
	}
	return f, nil
}
