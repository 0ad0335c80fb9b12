package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/beylesys/Kacheri-sub002/internal/artifact"
	"github.com/beylesys/Kacheri-sub002/internal/store"
)

// CleanupOptions scope one cleanup run. Nothing is deleted unless the
// matching Delete flag is set; the default run only reports.
type CleanupOptions struct {
	SubjectID     string
	DeleteStale   bool
	DeleteOrphans bool
}

// CleanupSummary counts stale rows (database entries whose artifact is gone)
// and orphan files (artifacts no row points at).
type CleanupSummary struct {
	DBStale        int      `json:"dbStale"`
	FSOrphan       int      `json:"fsOrphan"`
	RowsDeleted    int      `json:"rowsDeleted"`
	FilesDeleted   int      `json:"filesDeleted"`
	Errors         int      `json:"errors"`
	StaleRecordIDs []string `json:"staleRecordIds,omitempty"`
	OrphanLocators []string `json:"orphanLocators,omitempty"`
}

// Cleanup cross-checks both sides. Deletion is row-by-row and file-by-file:
// one failure is counted and the run continues.
func (s *Scanner) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupSummary, error) {
	var sum CleanupSummary

	records, err := s.store.ListProofs(ctx, store.ProofFilter{SubjectID: opts.SubjectID, Limit: -1})
	if err != nil {
		return sum, fmt.Errorf("list proof records: %w", err)
	}

	recorded := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.Path == "" {
			// Text-only proofs have no artifact to go stale.
			continue
		}
		recorded[rec.Path] = struct{}{}

		err := s.artifacts.Stat(ctx, rec.Path)
		if err == nil {
			continue
		}
		if !errors.Is(err, artifact.ErrNotExist) {
			sum.Errors++
			log.Printf("reconcile: cleanup stat %s: %v", rec.Path, err)
			continue
		}
		sum.DBStale++
		sum.StaleRecordIDs = append(sum.StaleRecordIDs, rec.ID)
		if opts.DeleteStale {
			if err := s.store.DeleteProof(ctx, rec.ID); err != nil {
				sum.Errors++
				log.Printf("reconcile: cleanup delete row %s: %v", rec.ID, err)
				continue
			}
			sum.RowsDeleted++
		}
	}

	err = s.artifacts.Walk(ctx, func(locator string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := recorded[locator]; ok {
			return nil
		}
		if opts.SubjectID != "" {
			ref, ok := artifact.ParseLocator(locator)
			if !ok || ref.SubjectID != opts.SubjectID {
				return nil
			}
		}
		sum.FSOrphan++
		sum.OrphanLocators = append(sum.OrphanLocators, locator)
		if opts.DeleteOrphans {
			if err := s.artifacts.Remove(ctx, locator); err != nil {
				sum.Errors++
				log.Printf("reconcile: cleanup remove %s: %v", locator, err)
				return nil
			}
			sum.FilesDeleted++
		}
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("walk artifact store: %w", err)
	}
	return sum, nil
}
