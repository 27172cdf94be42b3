package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/flarebyte/fabrik/internal/plan"
)

type jsonFile struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// jsonStore rewrites a full snapshot on every commit through a temporary
// file and a rename, so readers never observe a half-written store.
type jsonStore struct {
	*index
	path    string
	log     logrus.FieldLogger
	writeMu sync.Mutex
}

func openJSON(path string, log logrus.FieldLogger) (*jsonStore, error) {
	s := &jsonStore{index: newIndex(), path: path, log: log}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		quarantine(log, path, err)
		return s, nil
	}
	var f jsonFile
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&f); err != nil {
		quarantine(log, path, err)
		return s, nil
	}
	if f.Version != FormatVersion {
		quarantine(log, path, fmt.Errorf("unsupported version %d (supported: %d)", f.Version, FormatVersion))
		return s, nil
	}
	for _, r := range f.Records {
		if r.Signature == "" {
			quarantine(log, path, errors.New("record without signature"))
			return &jsonStore{index: newIndex(), path: path, log: log}, nil
		}
		s.recs[r.Signature] = r
	}
	return s, nil
}

func (s *jsonStore) Path() string { return s.path }

func (s *jsonStore) Commit(r Record) error {
	unlock := s.lockKey(r.Signature)
	defer unlock()
	prev, had := s.put(r)
	if err := s.flush(); err != nil {
		s.restore(r.Signature, prev, had)
		return fmt.Errorf("store commit: %w", err)
	}
	return nil
}

func (s *jsonStore) Forget(sig plan.Signature) error {
	unlock := s.lockKey(sig)
	defer unlock()
	prev, had := s.remove(sig)
	if !had {
		return nil
	}
	if err := s.flush(); err != nil {
		s.restore(sig, prev, had)
		return fmt.Errorf("store forget: %w", err)
	}
	return nil
}

func (s *jsonStore) flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	f := jsonFile{Version: FormatVersion, Records: make([]Record, 0, len(s.recs))}
	for _, r := range s.recs {
		f.Records = append(f.Records, r)
	}
	s.mu.RUnlock()
	sort.Slice(f.Records, func(i, j int) bool { return f.Records[i].Signature < f.Records[j].Signature })

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(f); err != nil {
		return err
	}
	return writeFileAtomic(s.path, buf.Bytes(), 0o644)
}

func (s *jsonStore) Close() error { return nil }

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
