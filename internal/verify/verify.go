// Package verify audits proof records against the artifacts they point at.
// Every check is read-only and idempotent: running it twice against an
// unchanged store produces the same summary.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beylesys/Kacheri-sub002/internal/artifact"
	"github.com/beylesys/Kacheri-sub002/internal/packet"
	"github.com/beylesys/Kacheri-sub002/internal/store"
)

// Status classifies one record's check.
const (
	StatusPass = "pass"
	StatusFail = "fail"
	StatusMiss = "miss"
)

// Result is the per-record trace line.
type Result struct {
	RecordID  string `json:"recordId"`
	SubjectID string `json:"subjectId"`
	Kind      string `json:"kind"`
	Path      string `json:"path,omitempty"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// Summary aggregates one verification run.
type Summary struct {
	Total int `json:"total"`
	Pass  int `json:"pass"`
	Fail  int `json:"fail"`
	Miss  int `json:"miss"`
}

type proofLister interface {
	ListProofs(ctx context.Context, filter store.ProofFilter) ([]store.ProofRecord, error)
}

// Verifier re-reads recorded artifacts and compares content hashes.
type Verifier struct {
	store       proofLister
	artifacts   artifact.Store
	workers     int
	readTimeout time.Duration
}

func New(st proofLister, artifacts artifact.Store, workers int, readTimeout time.Duration) *Verifier {
	if workers <= 0 {
		workers = 8
	}
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	return &Verifier{store: st, artifacts: artifacts, workers: workers, readTimeout: readTimeout}
}

// Run verifies every record matching the filter. Records are checked
// concurrently but the returned trace is ordered by record id so runs
// diff cleanly.
func (v *Verifier) Run(ctx context.Context, filter store.ProofFilter) (Summary, []Result, error) {
	records, err := v.store.ListProofs(ctx, filter)
	if err != nil {
		return Summary{}, nil, err
	}

	results := make([]Result, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, rec := range records {
		g.Go(func() error {
			results[i] = v.check(gctx, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].RecordID < results[j].RecordID })

	var sum Summary
	sum.Total = len(results)
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			sum.Pass++
		case StatusFail:
			sum.Fail++
		case StatusMiss:
			sum.Miss++
		}
	}
	return sum, results, nil
}

func (v *Verifier) check(ctx context.Context, rec store.ProofRecord) Result {
	res := Result{RecordID: rec.ID, SubjectID: rec.SubjectID, Kind: rec.Kind, Path: rec.Path}

	if rec.Path == "" {
		res.Status = StatusMiss
		res.Reason = "no artifact locator"
		return res
	}

	readCtx, cancel := context.WithTimeout(ctx, v.readTimeout)
	defer cancel()
	data, err := v.artifacts.ReadAll(readCtx, rec.Path)
	if err != nil {
		// An unreadable artifact proves nothing either way.
		res.Status = StatusMiss
		if errors.Is(err, artifact.ErrNotExist) {
			res.Reason = "artifact missing"
		} else if errors.Is(err, context.DeadlineExceeded) {
			res.Reason = "read timed out"
		} else {
			res.Reason = "read failed: " + err.Error()
		}
		return res
	}

	if hashRaw(data) == rec.Hash {
		res.Status = StatusPass
		return res
	}
	// Evidence packets record the hash of their canonical output, not of
	// the file bytes. Fall back to the packet interpretation before failing.
	if pkt, err := packet.Decode(data); err == nil && pkt.ContentHash() == rec.Hash {
		res.Status = StatusPass
		return res
	}

	res.Status = StatusFail
	res.Reason = "content hash mismatch"
	return res
}

func hashRaw(data []byte) string {
	sum := sha256.Sum256(data)
	return packet.HashPrefix + hex.EncodeToString(sum[:])
}
