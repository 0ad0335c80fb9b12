// Package proof records content-addressed proofs of generated artifacts.
// A record is durable once its row commits; everything after the commit
// (broadcast to workspace listeners) is best-effort and never rolls back
// or fails the insert.
package proof

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/beylesys/Kacheri-sub002/internal/artifact"
	"github.com/beylesys/Kacheri-sub002/internal/bus"
	"github.com/beylesys/Kacheri-sub002/internal/packet"
	"github.com/beylesys/Kacheri-sub002/internal/store"
	"github.com/beylesys/Kacheri-sub002/internal/util"
)

var (
	ErrSubjectRequired = errors.New("proof: subject id is required")
	ErrKindRequired    = errors.New("proof: kind is required")
	ErrHashRequired    = errors.New("proof: content hash is required")
	ErrBadHash         = errors.New("proof: content hash must be sha256-prefixed")
)

type proofStore interface {
	InsertProof(ctx context.Context, rec store.ProofRecord) error
	ListProofs(ctx context.Context, filter store.ProofFilter) ([]store.ProofRecord, error)
}

// Service is the write path for proof records.
type Service struct {
	store     proofStore
	artifacts artifact.Store
	publisher bus.Publisher
}

func New(st proofStore, artifacts artifact.Store, publisher bus.Publisher) *Service {
	if publisher == nil {
		publisher = bus.NopPublisher{}
	}
	return &Service{store: st, artifacts: artifacts, publisher: publisher}
}

// RecordInput describes one proof to record. Supply either ContentHash (for
// artifacts produced elsewhere, e.g. exports) or Packet (AI operations whose
// evidence file this service writes). Locator may be empty: with a packet it
// is derived by convention; without one the proof is text-only.
type RecordInput struct {
	SubjectID   string
	Kind        string
	ContentHash string
	Locator     string
	WorkspaceID string
	CreatedBy   string
	Meta        map[string]any
	Packet      *packet.Packet
}

// Record persists one proof record. The row insert runs in an explicit
// transaction; the evidence file (when a packet is supplied) is written
// first so a failed insert never leaves a row pointing at nothing.
func (s *Service) Record(ctx context.Context, in RecordInput) (store.ProofRecord, error) {
	if in.SubjectID == "" {
		return store.ProofRecord{}, ErrSubjectRequired
	}
	if in.Kind == "" {
		return store.ProofRecord{}, ErrKindRequired
	}

	contentHash := in.ContentHash
	ts := time.Now().UnixMilli()
	if in.Packet != nil {
		contentHash = in.Packet.ContentHash()
		if in.Packet.Timestamp != 0 {
			ts = in.Packet.Timestamp
		}
	}
	if contentHash == "" {
		return store.ProofRecord{}, ErrHashRequired
	}
	if !strings.HasPrefix(contentHash, packet.HashPrefix) {
		return store.ProofRecord{}, fmt.Errorf("%w: %q", ErrBadHash, contentHash)
	}

	locator := in.Locator
	if locator == "" && in.Packet != nil {
		locator = artifact.DeriveLocator(in.WorkspaceID, in.SubjectID, in.Kind, ts)
	}

	if in.Packet != nil {
		encoded, err := in.Packet.Encode()
		if err != nil {
			return store.ProofRecord{}, fmt.Errorf("encode evidence packet: %w", err)
		}
		if err := s.artifacts.Write(ctx, locator, encoded); err != nil {
			return store.ProofRecord{}, fmt.Errorf("write evidence packet: %w", err)
		}
	}

	rec := store.ProofRecord{
		ID:          util.NewID("prf"),
		SubjectID:   in.SubjectID,
		Kind:        in.Kind,
		Hash:        contentHash,
		Path:        locator,
		Meta:        in.Meta,
		TS:          ts,
		WorkspaceID: in.WorkspaceID,
		CreatedBy:   in.CreatedBy,
	}
	if locator != "" {
		rec.StorageKey = locator
		rec.StorageProvider = s.artifacts.Provider()
	}

	if err := s.store.InsertProof(ctx, rec); err != nil {
		return store.ProofRecord{}, err
	}

	// Fire-and-forget: durability of the proof outranks notification
	// delivery, so a broadcast failure is logged and swallowed.
	if err := s.publisher.PublishProofRecorded(ctx, bus.ProofRecorded{
		WorkspaceID: rec.WorkspaceID,
		SubjectID:   rec.SubjectID,
		Kind:        rec.Kind,
		Hash:        rec.Hash,
		Path:        rec.Path,
		TS:          rec.TS,
	}); err != nil {
		log.Printf("proof: broadcast record %s: %v", rec.ID, err)
	}

	return rec, nil
}

// List exposes proof records, newest first.
func (s *Service) List(ctx context.Context, filter store.ProofFilter) ([]store.ProofRecord, error) {
	return s.store.ListProofs(ctx, filter)
}
