// Package cli holds version values stamped by release scripts:
//
//	-ldflags "-X 'github.com/flarebyte/fabrik/cli.Version=1.2.3' -X 'github.com/flarebyte/fabrik/cli.Date=2026-02-09'"
//
// internal/buildinfo falls back to these when its own values are unset.
package cli

var (
	Version string
	Date    string
)
