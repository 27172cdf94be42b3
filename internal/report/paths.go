package report

import (
	"os"
	"path/filepath"
	"strings"
)

// Relativize shortens an absolute path below the working directory to a
// relative, slash-separated one for stable output. Other paths are
// returned unchanged.
func Relativize(p string) string {
	if p == "" || !filepath.IsAbs(p) {
		return filepath.ToSlash(p)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return p
	}
	rel, err := filepath.Rel(cwd, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	return filepath.ToSlash(rel)
}
