package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beylesys/Kacheri-sub002/internal/action"
	"github.com/beylesys/Kacheri-sub002/internal/artifact"
	"github.com/beylesys/Kacheri-sub002/internal/packet"
	"github.com/beylesys/Kacheri-sub002/internal/store"
)

// StatusDrift marks an evidence packet whose recomputed output hash no
// longer matches what was recorded.
const StatusDrift = "drift"

// ReplaySummary aggregates one replay run. Rerun counts the recomputations
// actually performed, so unreadable artifacts are visible as Total-Rerun.
type ReplaySummary struct {
	Total int `json:"total"`
	Pass  int `json:"pass"`
	Drift int `json:"drift"`
	Miss  int `json:"miss"`
	Rerun int `json:"rerun"`
}

// Replayer re-derives the output hash of AI evidence packets from their
// stored inputs and outputs. Like the verifier it never writes.
type Replayer struct {
	store       proofLister
	artifacts   artifact.Store
	workers     int
	readTimeout time.Duration
}

func NewReplayer(st proofLister, artifacts artifact.Store, workers int, readTimeout time.Duration) *Replayer {
	if workers <= 0 {
		workers = 8
	}
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	return &Replayer{store: st, artifacts: artifacts, workers: workers, readTimeout: readTimeout}
}

// Run replays AI proofs matching the subject and kind filters. Empty subject
// means all subjects; empty kind means every allowlisted kind.
func (r *Replayer) Run(ctx context.Context, subjectID, kind string) (ReplaySummary, []Result, error) {
	kinds := action.AIProofKinds
	if kind != "" {
		if !action.IsAIProofKind(kind) {
			return ReplaySummary{}, nil, fmt.Errorf("kind %q is not a replayable AI proof kind", kind)
		}
		kinds = []string{kind}
	}

	// Negative limit disables the listing cap: a replay audits every row.
	records, err := r.store.ListProofs(ctx, store.ProofFilter{
		SubjectID: subjectID,
		Kinds:     kinds,
		Limit:     -1,
	})
	if err != nil {
		return ReplaySummary{}, nil, err
	}

	results := make([]Result, len(records))
	reruns := make([]bool, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, rec := range records {
		g.Go(func() error {
			results[i], reruns[i] = r.replay(gctx, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ReplaySummary{}, nil, err
	}

	var sum ReplaySummary
	sum.Total = len(results)
	for i, res := range results {
		if reruns[i] {
			sum.Rerun++
		}
		switch res.Status {
		case StatusPass:
			sum.Pass++
		case StatusDrift:
			sum.Drift++
		case StatusMiss:
			sum.Miss++
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RecordID < results[j].RecordID })
	return sum, results, nil
}

func (r *Replayer) replay(ctx context.Context, rec store.ProofRecord) (Result, bool) {
	res := Result{RecordID: rec.ID, SubjectID: rec.SubjectID, Kind: rec.Kind, Path: rec.Path}

	if rec.Path == "" {
		res.Status = StatusMiss
		res.Reason = "no evidence packet"
		return res, false
	}

	readCtx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()
	data, err := r.artifacts.ReadAll(readCtx, rec.Path)
	if err != nil {
		res.Status = StatusMiss
		if errors.Is(err, artifact.ErrNotExist) {
			res.Reason = "evidence packet missing"
		} else if errors.Is(err, context.DeadlineExceeded) {
			res.Reason = "read timed out"
		} else {
			res.Reason = "read failed: " + err.Error()
		}
		return res, false
	}

	// A packet that no longer decodes is proven wrong, not merely absent.
	pkt, err := packet.Decode(data)
	if err != nil {
		res.Status = StatusDrift
		res.Reason = "evidence packet corrupt"
		return res, false
	}

	recomputed, err := packet.HashContent(pkt.Output)
	if err != nil {
		res.Status = StatusDrift
		res.Reason = "output not canonicalizable"
		return res, true
	}
	if recomputed != pkt.Hashes.Output {
		res.Status = StatusDrift
		res.Reason = "recomputed output hash diverges from packet"
		return res, true
	}
	if recomputed != rec.Hash {
		res.Status = StatusDrift
		res.Reason = "recomputed output hash diverges from record"
		return res, true
	}

	res.Status = StatusPass
	return res, true
}
