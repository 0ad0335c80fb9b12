// Package cli is the operational surface of the proof subsystem: backfill,
// compose replay, stale-reference cleanup and the nightly verification run,
// all sharing one exit-code convention so schedulers and scripts can branch
// on outcomes.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/beylesys/Kacheri-sub002/internal/nightly"
	"github.com/beylesys/Kacheri-sub002/internal/reconcile"
	"github.com/beylesys/Kacheri-sub002/internal/verify"
)

// App bundles the services the commands run against. main wires it from
// config; tests wire it from fakes.
type App struct {
	Scanner      *reconcile.Scanner
	Replayer     *verify.Replayer
	Orchestrator *nightly.Orchestrator
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the root command for the proofs CLI.
func NewRootCommand(app *App) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "proofs",
		Short: "Proof and provenance integrity tooling",
		Long:  "Audits, repairs and reports on the proof records behind exports and AI operations.",
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewBackfillCommand(app, opts))
	cmd.AddCommand(NewReplayCommand(app, opts))
	cmd.AddCommand(NewCleanStaleCommand(app, opts))
	cmd.AddCommand(NewNightlyVerifyCommand(app, opts))

	return cmd
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
