// Package gwasmrunner assembles the runner's command tree: a single
// root command with persistent flags, config-backed defaults layered
// with flags, and --verbose wired to logrus. The runner has exactly
// one verb, running the given binary, so there is no per-verb file
// split.
package gwasmrunner

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/golemfactory/gwasm-runner/pkg/backend"
	"github.com/golemfactory/gwasm-runner/pkg/config"
	"github.com/golemfactory/gwasm-runner/pkg/localrunner"
)

// Version is statically populated build metadata, passed in by main.
type Version struct {
	Date, Vers, Hash string
}

func (v Version) String() string {
	if v.Vers == "" {
		return "(devel)"
	}
	return v.Vers
}

// RootCommandConfig carries the values main() knows that the command
// tree needs but that tests may want to override.
type RootCommandConfig struct {
	Version Version
}

// NewRootCmd builds the runner's root command: it has no subcommands,
// the root itself is the "run" verb.
func NewRootCmd(cfg RootCommandConfig) *cobra.Command {
	defaults, err := config.NewDefault()
	if err != nil {
		defaults = config.New()
	}

	var (
		backendSpec string
		runtime     string
		verbose     int
		yes         bool
	)

	root := &cobra.Command{
		Use:           "gwasm-runner [flags] <binary> [binary-args...]",
		Short:         "Run a split/exec/merge compute binary across a Golem backend",
		Version:       cfg.Version.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configureLogging(verbose)

			b, err := backend.Parse(backendSpec)
			if err != nil {
				return err
			}

			binaryPath := args[0]
			binaryArgs := args[1:]

			if b.Kind != backend.Local && !yes {
				if !confirm(cmd, b) {
					return fmt.Errorf("aborted: user declined to confirm run against backend %q", backendSpec)
				}
			}

			return run(cmd.Context(), b, runtime, binaryPath, binaryArgs)
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	root.Flags().SetInterspersed(false)
	root.PersistentFlags().StringVar(&backendSpec, "backend", defaults.Backend, "execution backend: Local, Brass, gu://host[:port], or yagna://?token=...&subnet=...")
	root.PersistentFlags().StringVar(&runtime, "runtime", defaults.Runtime, "engine runtime: spwasm or wasmtime")
	root.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase log verbosity (repeatable)")
	root.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompts before spending funds")

	return root
}

func configureLogging(verbose int) {
	level := logrus.InfoLevel
	switch {
	case verbose >= 2:
		level = logrus.TraceLevel
	case verbose == 1:
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
}

func confirm(cmd *cobra.Command, b backend.Backend) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "This will run your binary against backend %q, which may spend funds. Continue? [y/N] ", b.Kind)
	var answer string
	_, _ = fmt.Fscanln(cmd.InOrStdin(), &answer)
	return answer == "y" || answer == "Y" || answer == "yes"
}

// run dispatches to the Local in-process pipeline, or returns an error
// for backends whose market/activity/payment REST clients (pkg/market,
// pkg/activity, pkg/payment) are external collaborator contracts this
// module declares but does not implement a concrete provider for (see
// DESIGN.md).
func run(ctx context.Context, b backend.Backend, runtime, binaryPath string, binaryArgs []string) error {
	switch b.Kind {
	case backend.Local:
		return localrunner.Run(ctx, binaryPath, binaryArgs)
	default:
		return fmt.Errorf("backend %q requires a %s market/activity/payment client, which is not wired in this build", b.Kind, b.Kind)
	}
}

// Execute runs the root command against os.Args, writing a final error
// message to stderr and returning the process exit code.
func Execute(cfg RootCommandConfig) int {
	root := NewRootCmd(cfg)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
