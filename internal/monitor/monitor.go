// Package monitor observes which files a command and all of its descendant
// processes read and write.
//
// A Monitor wraps a command into a Session. The runner starts the argv the
// session returns, waits for it, and hands the exit code back to Finish,
// which yields the observed accesses with fingerprints. Inputs are
// fingerprinted when first observed and outputs after completion.
package monitor

import (
	"context"
	"sort"

	"github.com/flarebyte/fabrik/internal/fingerprint"
	"github.com/flarebyte/fabrik/internal/plan"
)

// Monitor is an access-tracing mechanism.
type Monitor interface {
	// Name identifies the mechanism in logs and diagnostics.
	Name() string
	// Probe checks that the mechanism works on this host. A failure is a
	// *MonitoringError and must abort the run before anything executes.
	Probe(ctx context.Context) error
	// Begin prepares a monitoring session for one command.
	Begin(cmd plan.Command) (Session, error)
}

// Session owns the tracing of one command's process tree.
type Session interface {
	// Argv is what the runner must execute in place of the command's argv.
	Argv() []string
	// Finish is called once the process tree has exited.
	Finish(exitCode int) (Accesses, error)
	// Abort releases resources when the command never ran to completion.
	Abort()
}

// Accesses are the files a command consumed and produced, sorted by path.
type Accesses struct {
	Inputs  []fingerprint.FileRecord
	Outputs []fingerprint.FileRecord
}

// Files returns inputs followed by outputs.
func (a Accesses) Files() []fingerprint.FileRecord {
	out := make([]fingerprint.FileRecord, 0, len(a.Inputs)+len(a.Outputs))
	out = append(out, a.Inputs...)
	return append(out, a.Outputs...)
}

// OutputPaths lists produced paths.
func (a Accesses) OutputPaths() []string {
	out := make([]string, len(a.Outputs))
	for i, r := range a.Outputs {
		out[i] = r.Path
	}
	return out
}

func sortRecords(rs []fingerprint.FileRecord) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Path < rs[j].Path })
}
