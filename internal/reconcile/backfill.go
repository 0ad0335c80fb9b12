// Package reconcile repairs divergence between the proof table and the
// artifact store in both directions: backfill records files the database
// never heard of, cleanup flags rows and files the other side lost.
package reconcile

import (
	"context"
	"fmt"
	"log"

	"github.com/beylesys/Kacheri-sub002/internal/artifact"
	"github.com/beylesys/Kacheri-sub002/internal/packet"
	"github.com/beylesys/Kacheri-sub002/internal/store"
	"github.com/beylesys/Kacheri-sub002/internal/util"
)

type reconcileStore interface {
	InsertProof(ctx context.Context, rec store.ProofRecord) error
	ProofExists(ctx context.Context, subjectID, kind, hash string) (bool, error)
	ListProofs(ctx context.Context, filter store.ProofFilter) ([]store.ProofRecord, error)
	DeleteProof(ctx context.Context, id string) error
}

// Scanner walks the artifact store against the proof table.
type Scanner struct {
	store     reconcileStore
	artifacts artifact.Store
}

func NewScanner(st reconcileStore, artifacts artifact.Store) *Scanner {
	return &Scanner{store: st, artifacts: artifacts}
}

// BackfillOptions scope one backfill run. DryRun reports what would be
// recorded without writing anything.
type BackfillOptions struct {
	SubjectID string
	DryRun    bool
}

// BackfillSummary counts one run. Skipped covers files outside the naming
// convention and files already recorded. A dry run reports its candidates in
// WouldInsert and leaves Inserted at zero, since nothing was written.
type BackfillSummary struct {
	Inspected   int `json:"inspected"`
	Inserted    int `json:"inserted"`
	WouldInsert int `json:"wouldInsert,omitempty"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

// Backfill walks every stored evidence file and inserts a proof row for any
// decodable packet the database is missing. A single bad file never aborts
// the walk.
func (s *Scanner) Backfill(ctx context.Context, opts BackfillOptions) (BackfillSummary, error) {
	var sum BackfillSummary

	err := s.artifacts.Walk(ctx, func(locator string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum.Inspected++

		ref, ok := artifact.ParseLocator(locator)
		if !ok {
			sum.Skipped++
			return nil
		}
		if opts.SubjectID != "" && ref.SubjectID != opts.SubjectID {
			sum.Skipped++
			return nil
		}

		data, err := s.artifacts.ReadAll(ctx, locator)
		if err != nil {
			sum.Errors++
			log.Printf("reconcile: backfill read %s: %v", locator, err)
			return nil
		}
		pkt, err := packet.Decode(data)
		if err != nil {
			sum.Errors++
			log.Printf("reconcile: backfill decode %s: %v", locator, err)
			return nil
		}
		hash := pkt.ContentHash()
		if hash == "" {
			sum.Errors++
			log.Printf("reconcile: backfill %s: packet has no output hash", locator)
			return nil
		}

		exists, err := s.store.ProofExists(ctx, ref.SubjectID, ref.Kind, hash)
		if err != nil {
			sum.Errors++
			log.Printf("reconcile: backfill lookup %s: %v", locator, err)
			return nil
		}
		if exists {
			sum.Skipped++
			return nil
		}

		if opts.DryRun {
			sum.WouldInsert++
			log.Printf("reconcile: would record %s subject=%s kind=%s hash=%s",
				locator, ref.SubjectID, ref.Kind, hash)
			return nil
		}

		rec := store.ProofRecord{
			ID:              util.NewID("prf"),
			SubjectID:       ref.SubjectID,
			Kind:            ref.Kind,
			Hash:            hash,
			Path:            locator,
			Meta:            map[string]any{"backfilled": true},
			TS:              ref.TS,
			WorkspaceID:     ref.WorkspaceID,
			StorageKey:      locator,
			StorageProvider: s.artifacts.Provider(),
		}
		if err := s.store.InsertProof(ctx, rec); err != nil {
			sum.Errors++
			log.Printf("reconcile: backfill insert %s: %v", locator, err)
			return nil
		}
		sum.Inserted++
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("walk artifact store: %w", err)
	}
	return sum, nil
}
