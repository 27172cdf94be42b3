// Package store persists build records: for every command signature, the
// files its last successful run read and wrote.
//
// A store is loaded once when opened and every commit is written through
// immediately, so an interrupted build keeps what it already finished.
// Unreadable state is discarded with a warning rather than failing the
// build; the next run is then a full rebuild.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flarebyte/fabrik/internal/fingerprint"
	"github.com/flarebyte/fabrik/internal/plan"
)

// FormatVersion is written into every store. Stores with another version
// are discarded on open.
const FormatVersion = 1

// ErrCorrupt marks persisted state that could not be read back.
var ErrCorrupt = errors.New("store corrupt")

// Record is the memo of one successful command execution.
type Record struct {
	Signature   plan.Signature           `json:"signature" yaml:"signature"`
	Argv        []string                 `json:"argv" yaml:"argv"`
	Dir         string                   `json:"dir" yaml:"dir"`
	ExitCode    int                      `json:"exitCode" yaml:"exitCode"`
	Inputs      []fingerprint.FileRecord `json:"inputs" yaml:"inputs"`
	Outputs     []fingerprint.FileRecord `json:"outputs" yaml:"outputs"`
	CommittedAt time.Time                `json:"committedAt" yaml:"committedAt"`
}

// NewRecord assembles the record of a successful run of cmd.
func NewRecord(cmd plan.Command, exitCode int, inputs, outputs []fingerprint.FileRecord) Record {
	return Record{
		Signature:   cmd.Signature(),
		Argv:        cmd.Argv(),
		Dir:         cmd.Dir(),
		ExitCode:    exitCode,
		Inputs:      inputs,
		Outputs:     outputs,
		CommittedAt: time.Now().UTC(),
	}
}

// Store maps signatures to records. Lookups may run concurrently with
// commits; commits for one signature are serialized.
type Store interface {
	Lookup(sig plan.Signature) (Record, bool)
	Commit(rec Record) error
	Forget(sig plan.Signature) error
	// Records returns every record ordered by directory then argv.
	Records() []Record
	Path() string
	Close() error
}

// Kind selects a backend.
type Kind string

const (
	KindJSON   Kind = "json"
	KindSQLite Kind = "sqlite"
)

// DefaultDir is the per-project state directory, relative to the root.
const DefaultDir = ".fabrik"

// DefaultPath returns the store location for kind under root.
func DefaultPath(root string, kind Kind) string {
	name := "deps.json"
	if kind == KindSQLite {
		name = "deps.db"
	}
	return filepath.Join(root, DefaultDir, name)
}

// Open loads the store at path, creating its directory. Corrupt state is
// moved aside to path+".corrupt" and an empty store is returned.
func Open(kind Kind, path string, log logrus.FieldLogger) (Store, error) {
	if log == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		log = l
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	switch kind {
	case KindJSON, "":
		return openJSON(path, log)
	case KindSQLite:
		return openSQLite(path, log)
	default:
		return nil, plan.Errorf("unknown store kind %q (supported: json, sqlite)", kind)
	}
}

// quarantine moves unreadable state out of the way and logs the recovery.
func quarantine(log logrus.FieldLogger, path string, cause error, extra ...string) {
	backup := path + ".corrupt"
	_ = os.Remove(backup)
	if err := os.Rename(path, backup); err != nil {
		backup = ""
		_ = os.Remove(path)
	}
	for _, x := range extra {
		_ = os.Remove(x)
	}
	log.WithFields(logrus.Fields{"store": path, "backup": backup}).
		WithError(fmt.Errorf("%w: %v", ErrCorrupt, cause)).
		Warn("discarding dependency store; all commands will be rebuilt")
}

// index is the in-memory view shared by the backends.
type index struct {
	mu   sync.RWMutex
	recs map[plan.Signature]Record

	keysMu sync.Mutex
	keys   map[plan.Signature]*sync.Mutex
}

func newIndex() *index {
	return &index{recs: map[plan.Signature]Record{}, keys: map[plan.Signature]*sync.Mutex{}}
}

// lockKey serializes writers of one signature.
func (ix *index) lockKey(sig plan.Signature) func() {
	ix.keysMu.Lock()
	m, ok := ix.keys[sig]
	if !ok {
		m = &sync.Mutex{}
		ix.keys[sig] = m
	}
	ix.keysMu.Unlock()
	m.Lock()
	return m.Unlock
}

func (ix *index) Lookup(sig plan.Signature) (Record, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	r, ok := ix.recs[sig]
	return r, ok
}

func (ix *index) put(r Record) (prev Record, had bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	prev, had = ix.recs[r.Signature]
	ix.recs[r.Signature] = r
	return prev, had
}

func (ix *index) remove(sig plan.Signature) (prev Record, had bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	prev, had = ix.recs[sig]
	delete(ix.recs, sig)
	return prev, had
}

func (ix *index) restore(sig plan.Signature, prev Record, had bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if had {
		ix.recs[sig] = prev
	} else {
		delete(ix.recs, sig)
	}
}

func (ix *index) Records() []Record {
	ix.mu.RLock()
	out := make([]Record, 0, len(ix.recs))
	for _, r := range ix.recs {
		out = append(out, r)
	}
	ix.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dir != out[j].Dir {
			return out[i].Dir < out[j].Dir
		}
		ai := plan.NewCommand(out[i].Argv, out[i].Dir, 0).String()
		aj := plan.NewCommand(out[j].Argv, out[j].Dir, 0).String()
		if ai != aj {
			return ai < aj
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}
