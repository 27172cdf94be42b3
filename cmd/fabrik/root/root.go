package root

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flarebyte/fabrik/cmd/fabrik/build"
	"github.com/flarebyte/fabrik/cmd/fabrik/clean"
	"github.com/flarebyte/fabrik/cmd/fabrik/diagnose"
	"github.com/flarebyte/fabrik/cmd/fabrik/version"
	"github.com/flarebyte/fabrik/cmd/fabrik/watch"
	"github.com/flarebyte/fabrik/internal/engine"
	"github.com/flarebyte/fabrik/internal/plan"
	"github.com/flarebyte/fabrik/internal/runner"
	"github.com/flarebyte/fabrik/internal/store"
)

// EnvPrefix namespaces environment overrides, e.g. FABRIK_JOBS=4.
const EnvPrefix = "FABRIK"

var envReplacer = strings.NewReplacer("-", "_")

// NewRootCmd creates the root command for fabrik.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "fabrik",
		Short: "Incremental builds that discover their own dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Show help when no subcommand is provided.
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile(v)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := cmd.PersistentFlags()
	f.StringP("plan", "f", "", "Plan file (.lua, .cue, .yaml); default: discover in the working directory")
	f.IntP("jobs", "j", 0, "Commands run at once; 0 uses the plan's value or the CPU count")
	f.Bool("force", false, "Run every command regardless of recorded dependencies")
	f.BoolP("dry-run", "n", false, "Report what would run without running it")
	f.String("store", string(store.KindJSON), "Dependency store backend: json or sqlite")
	f.String("store-path", "", "Dependency store file; default under .fabrik/ in the project root")
	f.String("strace", "strace", "strace binary used to observe file accesses")
	f.StringSlice("ignore", nil, "gitignore-style patterns never recorded as dependencies")
	f.Bool("no-gitignore", false, "Do not apply .gitignore files to glob() in build scripts")
	f.String("log-level", "info", "Log level: debug, info, warn, error")
	f.String("format", "text", "Report format: text, json, yaml")
	f.String("metrics-file", "", "Write Prometheus metrics for the build to this file")
	f.Bool("progress", false, "Print periodic progress lines to stderr")
	f.Duration("term-grace", runner.DefaultTermGrace, "Time between SIGTERM and SIGKILL on interrupt")
	_ = v.BindPFlags(f)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	load := func() engine.Settings { return settingsFrom(v) }

	// Subcommands
	cmd.AddCommand(version.VersionCmd)
	cmd.AddCommand(build.NewCmd(load))
	cmd.AddCommand(clean.NewCmd(load))
	cmd.AddCommand(diagnose.NewCmd(load))
	cmd.AddCommand(watch.NewCmd(load))

	return cmd
}

// readConfigFile merges .fabrik/config.yaml from the working directory,
// when present. Flags and environment take precedence.
func readConfigFile(v *viper.Viper) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(store.DefaultDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return plan.Errorf("settings file: %v", err)
	}
	return nil
}

func settingsFrom(v *viper.Viper) engine.Settings {
	return engine.Settings{
		PlanPath:    v.GetString("plan"),
		Jobs:        v.GetInt("jobs"),
		Force:       v.GetBool("force"),
		DryRun:      v.GetBool("dry-run"),
		Store:       v.GetString("store"),
		StorePath:   v.GetString("store-path"),
		Strace:      v.GetString("strace"),
		Ignore:      v.GetStringSlice("ignore"),
		NoGitignore: v.GetBool("no-gitignore"),
		LogLevel:    v.GetString("log-level"),
		Format:      v.GetString("format"),
		MetricsFile: v.GetString("metrics-file"),
		Progress:    v.GetBool("progress"),
		TermGrace:   v.GetDuration("term-grace"),
	}
}

// Execute runs the root command with provided args.
func Execute(args []string) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}
