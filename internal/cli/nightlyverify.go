package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beylesys/Kacheri-sub002/internal/nightly"
)

// NewNightlyVerifyCommand creates the nightly-verify command.
func NewNightlyVerifyCommand(app *App, rootOpts *RootOptions) *cobra.Command {
	var notifyOnProblem bool

	cmd := &cobra.Command{
		Use:   "nightly-verify",
		Short: "Run the full scheduled verification pass",
		Long: `Run the export-proof audit and the AI compose replay concurrently, write
the run report and, with --notify, alert the configured channels on
anything other than a clean pass. Exit code 0 means every check passed;
1 means problems or unverifiable artifacts were found; 2 means the run
itself broke.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNightlyVerify(app, rootOpts, cmd, notifyOnProblem)
		},
	}

	cmd.Flags().BoolVar(&notifyOnProblem, "notify", false, "alert configured channels on fail or partial")

	return cmd
}

func runNightlyVerify(app *App, opts *RootOptions, cmd *cobra.Command, notifyOnProblem bool) error {
	formatter := newFormatter(cmd, opts)

	rep, err := app.Orchestrator.Run(cmd.Context(), notifyOnProblem)
	if err != nil {
		_ = formatter.Error(err.Error(), nil)
		return WrapExitError(ExitCommandError, "nightly verification aborted", err)
	}

	formatter.Textf("run %s: %s", rep.RunID, rep.Status)
	formatter.Textf("exports: %s", taskLine(rep.Exports))
	formatter.Textf("compose replay: %s", taskLine(rep.ComposeReplay))
	if rep.ReportPath != "" {
		formatter.Textf("report: %s", rep.ReportPath)
	}
	if err := formatter.Success(rep); err != nil {
		return err
	}

	if rep.Status != nightly.StatusPass {
		return NewExitError(ExitFailure, fmt.Sprintf("verification finished with status %s", rep.Status))
	}
	return nil
}

func taskLine(task nightly.TaskReport) string {
	if task.Error != "" {
		return fmt.Sprintf("exit %d, error: %s", task.ExitCode, task.Error)
	}
	return fmt.Sprintf("exit %d, %s", task.ExitCode, task.Output)
}
