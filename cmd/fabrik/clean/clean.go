// Package clean implements `fabrik clean`.
package clean

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/flarebyte/fabrik/cmd/fabrik/build"
	"github.com/flarebyte/fabrik/internal/engine"
	"github.com/flarebyte/fabrik/internal/report"
)

// NewCmd returns the clean command.
func NewCmd(settings func() engine.Settings) *cobra.Command {
	return &cobra.Command{
		Use:           "clean",
		Short:         "Delete every recorded output and forget the records",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return build.ExitError(Run(settings(), cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}
}

// Run removes recorded outputs, one path per line on stdout. With DryRun
// set it only lists them.
func Run(s engine.Settings, stdout, stderr io.Writer) error {
	eng, err := engine.Open(s, engine.WithOutput(stderr))
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	removed, err := eng.Clean(s.DryRun)
	for _, p := range removed {
		if _, werr := fmt.Fprintln(stdout, report.Relativize(p)); werr != nil && err == nil {
			err = werr
		}
	}
	verb := "removed"
	if s.DryRun {
		verb = "would remove"
	}
	eng.Log.WithField("count", len(removed)).Info(verb + " recorded outputs")
	return err
}
