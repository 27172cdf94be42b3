// Package fingerprint computes content-derived file identities.
//
// Equality is decided by the content hash. Size is compared first because a
// size difference settles the question without reading the file; the
// modification time only keys the in-process memo.
package fingerprint

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Role tells whether a file was consumed or produced by a command.
type Role string

const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
)

// Fingerprint identifies file content.
type Fingerprint struct {
	Hash    string    `json:"hash" yaml:"hash"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mtime" yaml:"mtime"`
}

// Equal compares content identity only.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Size == o.Size && f.Hash == o.Hash
}

// FileRecord is one observed file access of a command.
type FileRecord struct {
	Path        string      `json:"path" yaml:"path"`
	Role        Role        `json:"role" yaml:"role"`
	Fingerprint Fingerprint `json:"fingerprint" yaml:"fingerprint"`
}

// ErrNotRegular is returned for directories, devices and other
// non-regular files.
var ErrNotRegular = errors.New("not a regular file")

type memoEntry struct {
	size  int64
	mtime time.Time
	hash  string
}

// Hasher fingerprints files, memoizing hashes by path while (size, mtime)
// stays the same. It is safe for concurrent use.
type Hasher struct {
	memo *lru.Cache[string, memoEntry]
}

// DefaultMemoSize bounds the number of memoized paths.
const DefaultMemoSize = 8192

// NewHasher returns a Hasher memoizing up to size paths. size <= 0 selects
// DefaultMemoSize.
func NewHasher(size int) *Hasher {
	if size <= 0 {
		size = DefaultMemoSize
	}
	c, err := lru.New[string, memoEntry](size)
	if err != nil {
		panic(fmt.Sprintf("fingerprint: lru: %v", err))
	}
	return &Hasher{memo: c}
}

// Of fingerprints the file at path. A missing file yields an error
// satisfying errors.Is(err, fs.ErrNotExist).
func (h *Hasher) Of(path string) (Fingerprint, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	if !st.Mode().IsRegular() {
		return Fingerprint{}, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}
	size, mtime := st.Size(), st.ModTime()
	if e, ok := h.memo.Get(path); ok && e.size == size && e.mtime.Equal(mtime) {
		return Fingerprint{Hash: e.hash, Size: size, ModTime: mtime}, nil
	}
	sum, err := hashFile(path)
	if err != nil {
		return Fingerprint{}, err
	}
	h.memo.Add(path, memoEntry{size: size, mtime: mtime, hash: sum})
	return Fingerprint{Hash: sum, Size: size, ModTime: mtime}, nil
}

// Matches reports whether the file at path still has the recorded
// content. A missing file never matches; other errors are returned.
func (h *Hasher) Matches(path string, want Fingerprint) (bool, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !st.Mode().IsRegular() || st.Size() != want.Size {
		return false, nil
	}
	got, err := h.Of(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return got.Equal(want), nil
}

// Invalidate drops memoized hashes for paths a command has just written.
func (h *Hasher) Invalidate(paths ...string) {
	for _, p := range paths {
		h.memo.Remove(p)
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return strconv.FormatUint(d.Sum64(), 16), nil
}
