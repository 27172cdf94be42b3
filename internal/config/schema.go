package config

import (
	"fmt"
	"strings"

	"github.com/google/shlex"

	"github.com/flarebyte/fabrik/internal/plan"
)

// File is the declarative plan schema shared by the CUE and YAML forms.
type File struct {
	ConfigVersion string      `json:"configVersion" yaml:"configVersion"`
	Jobs          int         `json:"jobs,omitempty" yaml:"jobs,omitempty"`
	Phases        []PhaseSpec `json:"phases" yaml:"phases"`
}

// PhaseSpec is one barrier-delimited group.
type PhaseSpec struct {
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
	Commands []CommandSpec `json:"commands" yaml:"commands"`
}

// CommandSpec gives either a shell-like run line, split without a shell,
// or an explicit argv. Dir is relative to the plan file.
type CommandSpec struct {
	Run  string   `json:"run,omitempty" yaml:"run,omitempty"`
	Argv []string `json:"argv,omitempty" yaml:"argv,omitempty"`
	Dir  string   `json:"dir,omitempty" yaml:"dir,omitempty"`
}

func (c CommandSpec) argv() ([]string, error) {
	switch {
	case c.Run != "" && len(c.Argv) > 0:
		return nil, fmt.Errorf("set only one of run and argv")
	case len(c.Argv) > 0:
		return c.Argv, nil
	case strings.TrimSpace(c.Run) != "":
		args, err := shlex.Split(c.Run)
		if err != nil {
			return nil, fmt.Errorf("run: %v", err)
		}
		return args, nil
	}
	return nil, fmt.Errorf("missing run or argv")
}

// Plan converts the file into a plan rooted at root.
func (f File) Plan(root string) (plan.Plan, error) {
	if err := checkConfigVersion(f.ConfigVersion); err != nil {
		return plan.Plan{}, plan.Errorf("%v", err)
	}
	if f.Jobs < 0 {
		return plan.Plan{}, plan.Errorf("jobs must be >= 0, got %d", f.Jobs)
	}
	b := plan.NewBuilder(root)
	b.SetJobs(f.Jobs)
	for pi, ph := range f.Phases {
		b.Barrier(ph.Name)
		for ci, c := range ph.Commands {
			argv, err := c.argv()
			if err != nil {
				return plan.Plan{}, &plan.ConfigurationError{Phase: pi, Index: ci, Msg: err.Error()}
			}
			b.Add(argv, c.Dir)
		}
	}
	return b.Build(), nil
}
