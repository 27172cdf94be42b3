package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/flarebyte/fabrik/internal/fingerprint"
	"github.com/flarebyte/fabrik/internal/plan"
)

var kinds = []Kind{KindJSON, KindSQLite}

func sampleRecord(i int) Record {
	cmd := plan.NewCommand([]string{"cc", "-c", fmt.Sprintf("f%d.c", i)}, "/src", 0)
	in := fingerprint.FileRecord{Path: fmt.Sprintf("/src/f%d.c", i), Role: fingerprint.RoleInput, Fingerprint: fingerprint.Fingerprint{Hash: "aa", Size: 2}}
	out := fingerprint.FileRecord{Path: fmt.Sprintf("/src/f%d.o", i), Role: fingerprint.RoleOutput, Fingerprint: fingerprint.Fingerprint{Hash: "bb", Size: 3}}
	return NewRecord(cmd, 0, []fingerprint.FileRecord{in}, []fingerprint.FileRecord{out})
}

func quietLogger() (*logrus.Logger, *logtest.Hook) {
	return logtest.NewNullLogger()
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func writeState(t *testing.T, path, content string) {
	t.Helper()
	mustNoErr(t, os.MkdirAll(filepath.Dir(path), 0o755))
	mustNoErr(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCommitSurvivesReopen(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			path := DefaultPath(t.TempDir(), kind)
			log, _ := quietLogger()
			s, err := Open(kind, path, log)
			mustNoErr(t, err)
			r := sampleRecord(1)
			mustNoErr(t, s.Commit(r))
			mustNoErr(t, s.Close())

			s2, err := Open(kind, path, log)
			mustNoErr(t, err)
			defer s2.Close()
			got, ok := s2.Lookup(r.Signature)
			if !ok {
				t.Fatalf("record lost on reopen")
			}
			if !reflect.DeepEqual(r.Argv, got.Argv) || got.Outputs[0].Path != r.Outputs[0].Path || got.Outputs[0].Fingerprint.Hash != "bb" {
				t.Fatalf("record mismatch: %+v", got)
			}

			mustNoErr(t, s2.Forget(r.Signature))
			if _, ok := s2.Lookup(r.Signature); ok {
				t.Fatalf("forgotten record still present")
			}
		})
	}
}

func TestConcurrentCommits(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			path := DefaultPath(t.TempDir(), kind)
			log, _ := quietLogger()
			s, err := Open(kind, path, log)
			mustNoErr(t, err)
			var wg sync.WaitGroup
			errs := make(chan error, 40)
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func(i int) { defer wg.Done(); errs <- s.Commit(sampleRecord(i)) }(i)
				go func(i int) { defer wg.Done(); errs <- s.Commit(sampleRecord(i % 5)) }(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				mustNoErr(t, err)
			}
			mustNoErr(t, s.Close())

			s2, err := Open(kind, path, log)
			mustNoErr(t, err)
			defer s2.Close()
			if n := len(s2.Records()); n != 20 {
				t.Fatalf("expected 20 records, got %d", n)
			}
		})
	}
}

func TestCorruptJSONIsDiscarded(t *testing.T) {
	path := DefaultPath(t.TempDir(), KindJSON)
	writeState(t, path, "{not json")
	log, hook := quietLogger()
	s, err := Open(KindJSON, path, log)
	mustNoErr(t, err)
	if n := len(s.Records()); n != 0 {
		t.Fatalf("expected empty store, got %d records", n)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("corrupt state not quarantined: %v", err)
	}
	if e := hook.LastEntry(); e == nil || e.Level != logrus.WarnLevel {
		t.Fatalf("expected a warning, got %+v", e)
	}

	mustNoErr(t, s.Commit(sampleRecord(1)))
	s2, err := Open(KindJSON, path, log)
	mustNoErr(t, err)
	if n := len(s2.Records()); n != 1 {
		t.Fatalf("expected 1 record, got %d", n)
	}
}

func TestFutureVersionIsDiscarded(t *testing.T) {
	path := DefaultPath(t.TempDir(), KindJSON)
	writeState(t, path, `{"version":99,"records":[]}`)
	log, hook := quietLogger()
	s, err := Open(KindJSON, path, log)
	mustNoErr(t, err)
	if n := len(s.Records()); n != 0 {
		t.Fatalf("expected empty store, got %d records", n)
	}
	if len(hook.Entries) != 1 {
		t.Fatalf("expected one warning, got %d entries", len(hook.Entries))
	}
}

func TestCorruptSQLiteIsDiscarded(t *testing.T) {
	path := DefaultPath(t.TempDir(), KindSQLite)
	writeState(t, path, "this is definitely not a database file, just text padding it out")
	log, hook := quietLogger()
	s, err := Open(KindSQLite, path, log)
	mustNoErr(t, err)
	defer s.Close()
	if n := len(s.Records()); n != 0 {
		t.Fatalf("expected empty store, got %d records", n)
	}
	if len(hook.Entries) == 0 {
		t.Fatalf("expected a warning")
	}
	mustNoErr(t, s.Commit(sampleRecord(2)))
	if _, ok := s.Lookup(sampleRecord(2).Signature); !ok {
		t.Fatalf("commit after recovery lost")
	}
}

func TestUnknownKind(t *testing.T) {
	_, err := Open(Kind("bolt"), filepath.Join(t.TempDir(), "x"), nil)
	var ce *plan.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}
