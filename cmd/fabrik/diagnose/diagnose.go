// Package diagnose implements `fabrik diagnose`.
package diagnose

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flarebyte/fabrik/cmd/fabrik/build"
	"github.com/flarebyte/fabrik/internal/engine"
	"github.com/flarebyte/fabrik/internal/report"
)

var (
	flagRecords bool
	flagStale   bool
	flagOut     string
)

// NewCmd returns the diagnose command.
func NewCmd(settings func() engine.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose [target]",
		Short: "Explain, per command, why it would run or be skipped",
		Long: "Evaluates the staleness of every planned command without running anything.\n" +
			"Prints one JSON object per line. With --records, dumps the dependency store instead.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings()
			if len(args) == 1 {
				s.Target = args[0]
			}
			return build.ExitError(Run(s, Options{Records: flagRecords, StaleOnly: flagStale, Out: flagOut}, cmd.OutOrStdout()))
		},
	}
	cmd.Flags().BoolVar(&flagRecords, "records", false, "Dump persisted build records instead of staleness decisions")
	cmd.Flags().BoolVar(&flagStale, "stale", false, "Only list commands that would run")
	cmd.Flags().StringVar(&flagOut, "out", "", "Also write the full result as a JSON array to this path")
	return cmd
}

// Options select what diagnose prints.
type Options struct {
	Records   bool
	StaleOnly bool
	Out       string
}

// Run prints JSON lines to w.
func Run(s engine.Settings, opts Options, w io.Writer) error {
	eng, err := engine.Open(s)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	var items []any
	if opts.Records {
		for _, rec := range eng.Store.Records() {
			items = append(items, rec)
		}
	} else {
		for _, x := range eng.Explain() {
			if opts.StaleOnly && !x.Stale {
				continue
			}
			x.Dir = report.Relativize(x.Dir)
			if x.Path != "" {
				x.Path = report.Relativize(x.Path)
			}
			items = append(items, x)
		}
	}
	for _, it := range items {
		if err := printOneLine(w, it); err != nil {
			return err
		}
	}
	if opts.Out != "" {
		if items == nil {
			items = []any{}
		}
		return writeJSONFile(opts.Out, items)
	}
	return nil
}

func printOneLine(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
