// Package ignore matches paths against gitignore-style patterns. It backs
// plan-time globbing and the access monitor's exclusion list.
package ignore

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gitgitignore "github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Matcher answers ignore queries for absolute paths under Root. Patterns
// come from .gitignore files found between Root and the queried path, plus
// any extra patterns given at construction. Results per directory are
// cached; a Matcher is safe for concurrent use.
type Matcher struct {
	root      string
	extra     []gitgitignore.Pattern
	gitignore bool

	mu    sync.Mutex
	byDir map[string][]gitgitignore.Pattern
}

// New returns a Matcher rooted at root. extra patterns are interpreted
// relative to root. When useGitignore is false only extra patterns apply.
func New(root string, extra []string, useGitignore bool) *Matcher {
	m := &Matcher{root: filepath.Clean(root), gitignore: useGitignore, byDir: map[string][]gitgitignore.Pattern{}}
	for _, line := range extra {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m.extra = append(m.extra, gitgitignore.ParsePattern(line, nil))
	}
	return m
}

// Root returns the directory patterns are relative to.
func (m *Matcher) Root() string { return m.root }

// Match reports whether abs is ignored. Paths outside the root are never
// ignored by a Matcher.
func (m *Matcher) Match(abs string, isDir bool) bool {
	rel, ok := m.rel(abs)
	if !ok || rel == "." {
		return false
	}
	comps := strings.Split(filepath.ToSlash(rel), "/")
	patterns := append([]gitgitignore.Pattern(nil), m.extra...)
	if m.gitignore {
		for _, d := range dirsForRel(rel) {
			patterns = append(patterns, m.patternsIn(d)...)
		}
	}
	if len(patterns) == 0 {
		return false
	}
	return gitgitignore.NewMatcher(patterns).Match(comps, isDir)
}

func (m *Matcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(m.root, filepath.Clean(abs))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return rel, true
}

func (m *Matcher) patternsIn(dir string) []gitgitignore.Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps, ok := m.byDir[dir]; ok {
		return ps
	}
	ps := readGitignore(m.root, dir)
	m.byDir[dir] = ps
	return ps
}

// dirsForRel returns the directories from "." down to the parent of rel.
func dirsForRel(rel string) []string {
	dir := filepath.Dir(rel)
	dirs := []string{"."}
	if dir == "." {
		return dirs
	}
	cur := ""
	for _, part := range strings.Split(dir, string(os.PathSeparator)) {
		cur = filepath.Join(cur, part)
		dirs = append(dirs, cur)
	}
	return dirs
}

func readGitignore(root, dir string) []gitgitignore.Pattern {
	b, err := os.ReadFile(filepath.Join(root, dir, ".gitignore"))
	if err != nil {
		return nil
	}
	var base []string
	if dir != "." && dir != "" {
		base = strings.Split(filepath.ToSlash(dir), "/")
	}
	var patterns []gitgitignore.Pattern
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitgitignore.ParsePattern(line, base))
	}
	return patterns
}

// skipDirs are never descended into while globbing.
var skipDirs = map[string]bool{".git": true, ".fabrik": true}

// Glob walks the matcher root and returns sorted absolute paths of regular
// files matching pattern. Patterns use gitignore syntax: "*.c" matches at
// any depth, "src/*.c" is anchored at the root, "**" spans directories.
// Ignored files and directories are skipped.
func (m *Matcher) Glob(pattern string) ([]string, error) {
	want := gitgitignore.NewMatcher([]gitgitignore.Pattern{gitgitignore.ParsePattern(pattern, nil)})
	var out []string
	err := filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == m.root {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || m.Match(p, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || m.Match(p, false) {
			return nil
		}
		rel, _ := m.rel(p)
		if want.Match(strings.Split(filepath.ToSlash(rel), "/"), false) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
