package engine

import (
	"time"

	"github.com/flarebyte/fabrik/internal/plan"
	"github.com/flarebyte/fabrik/internal/report"
	"github.com/flarebyte/fabrik/internal/store"
)

// Settings are the per-invocation knobs, gathered from flags, FABRIK_*
// environment variables and .fabrik/config.yaml.
type Settings struct {
	// PlanPath is the plan file. Empty discovers one in the working
	// directory.
	PlanPath string
	Target   string
	Jobs     int
	Force    bool
	DryRun   bool
	// Store is the backend kind, json or sqlite.
	Store string
	// StorePath overrides <root>/.fabrik/deps.{json,db}.
	StorePath string
	// Strace is the tracer binary.
	Strace string
	// Ignore holds gitignore-style patterns for paths never recorded as
	// dependencies.
	Ignore      []string
	NoGitignore bool
	LogLevel    string
	Format      string
	MetricsFile string
	Progress    bool
	TermGrace   time.Duration
}

// Validate rejects settings that cannot describe a run.
func (s Settings) Validate() error {
	if s.Jobs < 0 {
		return plan.Errorf("jobs must be >= 0, got %d", s.Jobs)
	}
	if s.TermGrace < 0 {
		return plan.Errorf("term-grace must not be negative")
	}
	switch store.Kind(s.Store) {
	case "", store.KindJSON, store.KindSQLite:
	default:
		return plan.Errorf("unknown store kind %q (supported: json, sqlite)", s.Store)
	}
	if _, err := report.ParseFormat(s.Format); err != nil {
		return err
	}
	return nil
}

func (s Settings) storeKind() store.Kind {
	if s.Store == "" {
		return store.KindJSON
	}
	return store.Kind(s.Store)
}
