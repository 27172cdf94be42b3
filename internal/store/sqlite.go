package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	// sqlite driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/flarebyte/fabrik/internal/plan"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (key TEXT NOT NULL PRIMARY KEY, value TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS record (signature TEXT NOT NULL PRIMARY KEY, body TEXT NOT NULL);`

// sqliteStore keeps one row per signature. Commits touch only their own
// row, which suits large projects where a JSON snapshot per commit would
// be wasteful.
type sqliteStore struct {
	*index
	path string
	db   *sql.DB
}

func openSQLite(path string, log logrus.FieldLogger) (*sqliteStore, error) {
	s, err := loadSQLite(path)
	if err == nil {
		return s, nil
	}
	quarantine(log, path, err, path+"-wal", path+"-shm", path+"-journal")
	s, err = loadSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("store: recreate %s: %w", path, err)
	}
	return s, nil
}

func loadSQLite(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, err
	}
	// database/sql pools connections; a single one serializes writes.
	db.SetMaxOpenConns(1)
	s := &sqliteStore{index: newIndex(), path: path, db: db}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) load() error {
	var check string
	if err := s.db.QueryRow(`PRAGMA quick_check`).Scan(&check); err != nil {
		return err
	}
	if check != "ok" {
		return fmt.Errorf("quick_check: %s", check)
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return err
	}
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'version'`).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(`INSERT INTO meta(key, value) VALUES('version', ?)`, strconv.Itoa(FormatVersion)); err != nil {
			return err
		}
	case err != nil:
		return err
	case v != strconv.Itoa(FormatVersion):
		return fmt.Errorf("unsupported version %s (supported: %d)", v, FormatVersion)
	}

	rows, err := s.db.Query(`SELECT signature, body FROM record`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var sig, body string
		if err := rows.Scan(&sig, &body); err != nil {
			return err
		}
		var r Record
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return fmt.Errorf("record %s: %w", sig, err)
		}
		if string(r.Signature) != sig {
			return fmt.Errorf("record %s: signature mismatch", sig)
		}
		s.recs[r.Signature] = r
	}
	return rows.Err()
}

func (s *sqliteStore) Path() string { return s.path }

func (s *sqliteStore) Commit(r Record) error {
	unlock := s.lockKey(r.Signature)
	defer unlock()
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store commit: %w", err)
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO record(signature, body) VALUES(?, ?)`, string(r.Signature), string(body)); err != nil {
		return fmt.Errorf("store commit: %w", err)
	}
	s.put(r)
	return nil
}

func (s *sqliteStore) Forget(sig plan.Signature) error {
	unlock := s.lockKey(sig)
	defer unlock()
	if _, err := s.db.Exec(`DELETE FROM record WHERE signature = ?`, string(sig)); err != nil {
		return fmt.Errorf("store forget: %w", err)
	}
	s.remove(sig)
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }
