package monitor

import (
	"path/filepath"
	"strings"

	"github.com/flarebyte/fabrik/internal/ignore"
)

// systemPrefixes hold pseudo files whose content is not stable.
var systemPrefixes = []string{"/proc/", "/sys/", "/dev/", "/run/"}

// Filter decides which observed paths are recorded.
type Filter struct {
	// Exclude lists absolute directory prefixes, such as the store
	// directory.
	Exclude []string
	// Ignore applies user patterns relative to the project root.
	Ignore *ignore.Matcher
}

// Keep reports whether path should be recorded.
func (f Filter) Keep(path string) bool {
	if path == "" || !filepath.IsAbs(path) {
		return false
	}
	for _, p := range systemPrefixes {
		if strings.HasPrefix(path, p) {
			return false
		}
	}
	for _, d := range f.Exclude {
		if path == d || strings.HasPrefix(path, d+string(filepath.Separator)) {
			return false
		}
	}
	if f.Ignore != nil && f.Ignore.Match(path, false) {
		return false
	}
	return true
}
