package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beylesys/Kacheri-sub002/internal/reconcile"
)

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(app *App, rootOpts *RootOptions) *cobra.Command {
	var subjectID string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Record proof rows for evidence files the database is missing",
		Long: `Walk the artifact store and insert a proof record for every decodable
evidence packet that has no matching database row. Files outside the
naming convention are skipped. --dry-run reports what would be recorded
without writing anything.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(app, rootOpts, cmd, subjectID, dryRun)
		},
	}

	cmd.Flags().StringVar(&subjectID, "subject", "", "restrict the walk to one subject id")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without inserting")

	return cmd
}

func runBackfill(app *App, opts *RootOptions, cmd *cobra.Command, subjectID string, dryRun bool) error {
	formatter := newFormatter(cmd, opts)
	formatter.VerboseLog("backfill: subject=%q dry-run=%v", subjectID, dryRun)

	sum, err := app.Scanner.Backfill(cmd.Context(), reconcile.BackfillOptions{
		SubjectID: subjectID,
		DryRun:    dryRun,
	})
	if err != nil {
		_ = formatter.Error(err.Error(), nil)
		return WrapExitError(ExitCommandError, "backfill aborted", err)
	}

	if dryRun {
		formatter.Textf("inspected %d files: would insert %d, skipped %d, errors %d",
			sum.Inspected, sum.WouldInsert, sum.Skipped, sum.Errors)
	} else {
		formatter.Textf("inspected %d files: inserted %d, skipped %d, errors %d",
			sum.Inspected, sum.Inserted, sum.Skipped, sum.Errors)
	}
	if err := formatter.Success(sum); err != nil {
		return err
	}

	if sum.Errors > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("backfill finished with %d error(s)", sum.Errors))
	}
	return nil
}
