package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewReplayCommand creates the replay command.
func NewReplayCommand(app *App, rootOpts *RootOptions) *cobra.Command {
	var subjectID, kind string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-derive AI evidence hashes and report drift",
		Long: `Read every AI evidence packet, recompute the output hash from the stored
content and compare it against what was recorded. Drift means the evidence
no longer supports the record. The check is read-only.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(app, rootOpts, cmd, subjectID, kind)
		},
	}

	cmd.Flags().StringVar(&subjectID, "subject", "", "restrict the replay to one subject id")
	cmd.Flags().StringVar(&kind, "kind", "", "restrict the replay to one AI proof kind")

	return cmd
}

func runReplay(app *App, opts *RootOptions, cmd *cobra.Command, subjectID, kind string) error {
	formatter := newFormatter(cmd, opts)
	formatter.VerboseLog("replay: subject=%q kind=%q", subjectID, kind)

	sum, results, err := app.Replayer.Run(cmd.Context(), subjectID, kind)
	if err != nil {
		_ = formatter.Error(err.Error(), nil)
		return WrapExitError(ExitCommandError, "replay aborted", err)
	}

	if opts.Verbose {
		for _, res := range results {
			if res.Status != "pass" {
				formatter.VerboseLog("%s %s: %s (%s)", res.RecordID, res.Status, res.Reason, res.Path)
			}
		}
	}

	formatter.Textf("replayed %d of %d: %d pass, %d drift, %d miss",
		sum.Rerun, sum.Total, sum.Pass, sum.Drift, sum.Miss)
	if err := formatter.Success(sum); err != nil {
		return err
	}

	if sum.Drift > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("replay found drift in %d record(s)", sum.Drift))
	}
	return nil
}
