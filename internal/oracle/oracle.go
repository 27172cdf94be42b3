// Package oracle decides whether a command must run again.
//
// A command is fresh only when a record exists for its signature, every
// recorded input still has its recorded content and every recorded output
// is still present with the content the command produced.
package oracle

import (
	"fmt"

	"github.com/flarebyte/fabrik/internal/fingerprint"
	"github.com/flarebyte/fabrik/internal/plan"
	"github.com/flarebyte/fabrik/internal/store"
)

// Reason explains a decision.
type Reason string

const (
	ReasonUpToDate      Reason = "up-to-date"
	ReasonForced        Reason = "forced"
	ReasonNew           Reason = "new-command"
	ReasonInputChanged  Reason = "input-changed"
	ReasonInputMissing  Reason = "input-missing"
	ReasonOutputChanged Reason = "output-changed"
	ReasonOutputMissing Reason = "output-missing"
	ReasonCheckFailed   Reason = "check-failed"
)

// Decision is the outcome for one command. Path names the first file that
// made the command stale, when a file did.
type Decision struct {
	Stale  bool
	Reason Reason
	Path   string
}

func (d Decision) String() string {
	if d.Path != "" {
		return fmt.Sprintf("%s %s", d.Reason, d.Path)
	}
	return string(d.Reason)
}

// Oracle reads the store and the filesystem. It never writes either.
type Oracle struct {
	Store  store.Store
	Hasher *fingerprint.Hasher
	// Force makes every command stale for this invocation.
	Force bool
}

func New(st store.Store, h *fingerprint.Hasher, force bool) *Oracle {
	if h == nil {
		h = fingerprint.NewHasher(0)
	}
	return &Oracle{Store: st, Hasher: h, Force: force}
}

// IsStale reports only the boolean outcome of Check.
func (o *Oracle) IsStale(cmd plan.Command) bool { return o.Check(cmd).Stale }

// Check evaluates cmd. Inputs are checked before outputs; filesystem
// errors other than absence make the command stale.
func (o *Oracle) Check(cmd plan.Command) Decision {
	if o.Force {
		return Decision{Stale: true, Reason: ReasonForced}
	}
	rec, ok := o.Store.Lookup(cmd.Signature())
	if !ok {
		return Decision{Stale: true, Reason: ReasonNew}
	}
	if d, stale := o.compare(rec.Inputs, ReasonInputChanged, ReasonInputMissing); stale {
		return d
	}
	if d, stale := o.compare(rec.Outputs, ReasonOutputChanged, ReasonOutputMissing); stale {
		return d
	}
	return Decision{Reason: ReasonUpToDate}
}

func (o *Oracle) compare(files []fingerprint.FileRecord, changed, missing Reason) (Decision, bool) {
	for _, f := range files {
		match, err := o.Hasher.Matches(f.Path, f.Fingerprint)
		if err != nil {
			return Decision{Stale: true, Reason: ReasonCheckFailed, Path: f.Path}, true
		}
		if match {
			continue
		}
		if _, err := o.Hasher.Of(f.Path); err != nil {
			return Decision{Stale: true, Reason: missing, Path: f.Path}, true
		}
		return Decision{Stale: true, Reason: changed, Path: f.Path}, true
	}
	return Decision{}, false
}
