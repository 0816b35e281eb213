package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/procmgr/internal/errs"
)

const appName = "process-manager"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot(runManager)
	if err := root.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// printError writes err followed by one "caused by" line per wrapped cause.
func printError(w io.Writer, err error) {
	_, _ = fmt.Fprintln(w, err)
	for _, cause := range errs.Chain(err) {
		_, _ = fmt.Fprintf(w, "\tcaused by: %s\n", cause)
	}
	_, _ = fmt.Fprintln(w)
}

type runFunc func(ctx context.Context, flags RunFlags) error

func buildRoot(run runFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Native process supervisor",
		Long: `process-manager launches a set of native modules, restarts them when they
exit, records their state in a registry under the working directory and stops
the last survivor once every other module has finished.

Examples:
  process-manager run                              # supervise the demo modules
  process-manager run --modules=modules.toml       # supervise a manifest
  PM_WORKING_DIR=/var/lib/pm process-manager run --store=sqlite`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return unknownCommand(cmd.ErrOrStderr(), args[0])
		},
	}
	addGlobalFlags(root.PersistentFlags())

	root.AddCommand(
		createRunCommand(run),
		createVersionCommand(),
	)
	return root
}

func createRunCommand(run runFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor until every module has stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return errs.New(errs.KindBadParameter, err)
			}
			return run(cmd.Context(), runFlagsFrom(v))
		},
	}
	addRunFlags(cmd.Flags())
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
			return err
		},
	}
}

func unknownCommand(w io.Writer, name string) error {
	_, _ = fmt.Fprintf(w, "unknown command: %s\n", name)
	return errs.New(errs.KindUnknownCommand, nil)
}
