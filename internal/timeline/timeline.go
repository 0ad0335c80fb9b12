// Package timeline reconciles two independently-written histories of one
// subject: raw provenance events and proof-backed AI activity. The merged
// view is deduplicated, newest first, and identical across repeated calls
// with no intervening writes.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/beylesys/Kacheri-sub002/internal/action"
	"github.com/beylesys/Kacheri-sub002/internal/store"
)

const (
	// DefaultLimit applies when the caller asks for nothing specific.
	DefaultLimit = 50
	// MaxLimit is the hard cap on one page.
	MaxLimit = 200
	// candidateWindow is how many rows each source contributes before
	// dedup and truncation, so an early cutoff never starves dedup.
	candidateWindow = 500
)

// Source of an entry: the raw provenance log or a proof record projection.
const (
	SourceProvenance = "provenance"
	SourceProof      = "proof"
)

// Entry is one reconciled timeline item, shaped like a provenance event.
type Entry struct {
	ID        string         `json:"id"`
	SubjectID string         `json:"subjectId"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	ActorID   string         `json:"actorId,omitempty"`
	TS        int64          `json:"ts"`
	Details   map[string]any `json:"details,omitempty"`
	Source    string         `json:"source"`

	// seq carries the provenance insertion-order id, the tie-break at equal
	// ts. Proof projections have no insertion order and sort after events.
	seq int64
}

// Filters narrows the merged view. Before is an exclusive upper bound on ts
// (pagination cursor); From/To are an inclusive range. Zero values are off.
type Filters struct {
	Action string
	Limit  int
	Before int64
	From   int64
	To     int64
}

// Sources is what the reconciler reads. Both candidate sets come from here.
type Sources interface {
	ListProvenance(ctx context.Context, filter store.ProvenanceFilter) ([]store.ProvenanceEvent, error)
	ListProofs(ctx context.Context, filter store.ProofFilter) ([]store.ProofRecord, error)
}

// Service binds the generic reconciler to the AI namespace predicate and the
// AI proof-kind allowlist. Any subject type reuses the same dedup logic.
type Service struct {
	src Sources
}

func New(src Sources) *Service {
	return &Service{src: src}
}

// Timeline returns the reconciled history of one subject, newest first.
func (s *Service) Timeline(ctx context.Context, subjectID string, f Filters) ([]Entry, error) {
	return Build(ctx, s.src, subjectID, action.IsAI, action.AIProofKinds, f)
}

// Build is the reconciler itself, parameterized by the subject id, the
// action-namespace predicate and the proof-kind allowlist.
func Build(ctx context.Context, src Sources, subjectID string, inNamespace func(string) bool, proofKinds []string, f Filters) ([]Entry, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("timeline: subject id is required")
	}

	events, err := src.ListProvenance(ctx, store.ProvenanceFilter{
		SubjectID: subjectID,
		Action:    f.Action,
		Limit:     candidateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("timeline provenance candidates: %w", err)
	}

	kinds := proofKinds
	if f.Action != "" {
		kinds = nil
		for _, k := range proofKinds {
			if k == f.Action {
				kinds = []string{k}
				break
			}
		}
	}

	var proofs []store.ProofRecord
	if len(kinds) > 0 {
		proofs, err = src.ListProofs(ctx, store.ProofFilter{
			SubjectID: subjectID,
			Kinds:     kinds,
			Limit:     candidateWindow,
		})
		if err != nil {
			return nil, fmt.Errorf("timeline proof candidates: %w", err)
		}
	}

	// Proof-backed entries win dedup by construction: their hash is
	// self-consistent, so index them first.
	type dedupKey struct {
		action string
		hash   string
	}
	proofBacked := make(map[dedupKey]struct{}, len(proofs))
	entries := make([]Entry, 0, len(events)+len(proofs))

	for _, rec := range proofs {
		if !inWindow(rec.TS, f) {
			continue
		}
		proofBacked[dedupKey{action: rec.Kind, hash: rec.Hash}] = struct{}{}
		details := map[string]any{"proofHash": rec.Hash}
		if rec.Path != "" {
			details["path"] = rec.Path
		}
		for k, v := range rec.Meta {
			if _, taken := details[k]; !taken {
				details[k] = v
			}
		}
		entries = append(entries, Entry{
			ID:        rec.ID,
			SubjectID: rec.SubjectID,
			Action:    rec.Kind,
			Actor:     string(action.ActorAI),
			ActorID:   rec.CreatedBy,
			TS:        rec.TS,
			Details:   details,
			Source:    SourceProof,
		})
	}

	for _, ev := range events {
		if !inWindow(ev.TS, f) {
			continue
		}
		// An AI event whose proofHash matches a proof-backed entry is the
		// same real action recorded twice; suppress the raw event. Legacy AI
		// events without a proofHash are always retained.
		if inNamespace(ev.Action) {
			if hash, ok := ev.Details["proofHash"].(string); ok && hash != "" {
				if _, dup := proofBacked[dedupKey{action: ev.Action, hash: hash}]; dup {
					continue
				}
			}
		}
		entries = append(entries, Entry{
			ID:        "pe_" + strconv.FormatInt(ev.ID, 10),
			SubjectID: ev.SubjectID,
			Action:    ev.Action,
			Actor:     ev.Actor,
			ActorID:   ev.ActorID,
			TS:        ev.TS,
			Details:   ev.Details,
			Source:    SourceProvenance,
			seq:       ev.ID,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].TS != entries[j].TS {
			return entries[i].TS > entries[j].TS
		}
		if entries[i].seq != entries[j].seq {
			return entries[i].seq > entries[j].seq
		}
		return entries[i].ID > entries[j].ID
	})

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func inWindow(ts int64, f Filters) bool {
	if f.Before > 0 && ts >= f.Before {
		return false
	}
	if f.From > 0 && ts < f.From {
		return false
	}
	if f.To > 0 && ts > f.To {
		return false
	}
	return true
}
