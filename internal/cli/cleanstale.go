package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beylesys/Kacheri-sub002/internal/reconcile"
)

// NewCleanStaleCommand creates the clean-stale command.
func NewCleanStaleCommand(app *App, rootOpts *RootOptions) *cobra.Command {
	var subjectID string
	var deleteStale, deleteOrphans bool

	cmd := &cobra.Command{
		Use:   "clean-stale",
		Short: "Report database rows and files that lost their other half",
		Long: `Cross-check proof records against the artifact store. Stale rows point at
files that no longer exist; orphan files have no row pointing at them.
Nothing is deleted unless --delete-db-stale or --delete-orphan-files is set.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanStale(app, rootOpts, cmd, subjectID, deleteStale, deleteOrphans)
		},
	}

	cmd.Flags().StringVar(&subjectID, "subject", "", "restrict the scan to one subject id")
	cmd.Flags().BoolVar(&deleteStale, "delete-db-stale", false, "delete rows whose artifact is gone")
	cmd.Flags().BoolVar(&deleteOrphans, "delete-orphan-files", false, "delete files no record points at")

	return cmd
}

func runCleanStale(app *App, opts *RootOptions, cmd *cobra.Command, subjectID string, deleteStale, deleteOrphans bool) error {
	formatter := newFormatter(cmd, opts)
	formatter.VerboseLog("clean-stale: subject=%q delete-db-stale=%v delete-orphan-files=%v",
		subjectID, deleteStale, deleteOrphans)

	sum, err := app.Scanner.Cleanup(cmd.Context(), reconcile.CleanupOptions{
		SubjectID:     subjectID,
		DeleteStale:   deleteStale,
		DeleteOrphans: deleteOrphans,
	})
	if err != nil {
		_ = formatter.Error(err.Error(), nil)
		return WrapExitError(ExitCommandError, "clean-stale aborted", err)
	}

	for _, id := range sum.StaleRecordIDs {
		formatter.VerboseLog("stale row: %s", id)
	}
	for _, locator := range sum.OrphanLocators {
		formatter.VerboseLog("orphan file: %s", locator)
	}

	formatter.Textf("%d stale rows (%d deleted), %d orphan files (%d deleted), errors %d",
		sum.DBStale, sum.RowsDeleted, sum.FSOrphan, sum.FilesDeleted, sum.Errors)
	if err := formatter.Success(sum); err != nil {
		return err
	}

	if sum.Errors > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("clean-stale finished with %d error(s)", sum.Errors))
	}
	return nil
}
