// Package provenance is the append-only log of who did what to which
// subject. Normal callers can only append; reconciliation tooling is the
// sole exception to immutability.
package provenance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/beylesys/Kacheri-sub002/internal/action"
	"github.com/beylesys/Kacheri-sub002/internal/search"
	"github.com/beylesys/Kacheri-sub002/internal/store"
)

var (
	ErrSubjectRequired = errors.New("provenance: subject id is required")
	ErrActionRequired  = errors.New("provenance: action is required")
	ErrBadActorType    = errors.New("provenance: unknown actor type")
)

type eventStore interface {
	AppendProvenance(ctx context.Context, ev store.ProvenanceEvent) (int64, error)
	ListProvenance(ctx context.Context, filter store.ProvenanceFilter) ([]store.ProvenanceEvent, error)
}

// Log wraps the event store with validation and best-effort search indexing.
type Log struct {
	store   eventStore
	indexer search.Indexer
}

func New(st eventStore, indexer search.Indexer) *Log {
	if indexer == nil {
		indexer = search.NopIndexer{}
	}
	return &Log{store: st, indexer: indexer}
}

// AppendInput describes one event to append.
type AppendInput struct {
	SubjectID   string
	Action      string
	ActorType   action.ActorType
	ActorID     string
	WorkspaceID string
	Details     map[string]any
}

// Receipt identifies the appended event.
type Receipt struct {
	ID int64 `json:"id"`
	TS int64 `json:"ts"`
}

// Append validates and persists one event. Timestamp is wall-clock ms at
// append; ordering ties are broken by the insertion-order id.
func (l *Log) Append(ctx context.Context, in AppendInput) (Receipt, error) {
	if in.SubjectID == "" {
		return Receipt{}, ErrSubjectRequired
	}
	if in.Action == "" {
		return Receipt{}, ErrActionRequired
	}
	actorType := in.ActorType
	if actorType == "" {
		actorType = action.ActorSystem
	}
	if !action.ValidActorType(actorType) {
		return Receipt{}, fmt.Errorf("%w: %q", ErrBadActorType, in.ActorType)
	}

	ev := store.ProvenanceEvent{
		SubjectID:   in.SubjectID,
		Action:      in.Action,
		Actor:       string(actorType),
		ActorID:     in.ActorID,
		WorkspaceID: in.WorkspaceID,
		TS:          time.Now().UnixMilli(),
		Details:     in.Details,
	}
	id, err := l.store.AppendProvenance(ctx, ev)
	if err != nil {
		return Receipt{}, err
	}

	// Indexing is best-effort: the append already committed.
	if err := l.indexer.IndexEvent(search.EventRecord{
		ID:          "pe_" + strconv.FormatInt(id, 10),
		SubjectID:   ev.SubjectID,
		Action:      ev.Action,
		Actor:       ev.Actor,
		ActorID:     ev.ActorID,
		WorkspaceID: ev.WorkspaceID,
		TS:          ev.TS,
		Summary:     summaryOf(ev.Details),
	}); err != nil {
		log.Printf("provenance: index event: %v", err)
	}

	return Receipt{ID: id, TS: ev.TS}, nil
}

// List exposes raw events for a subject, newest first.
func (l *Log) List(ctx context.Context, filter store.ProvenanceFilter) ([]store.ProvenanceEvent, error) {
	return l.store.ListProvenance(ctx, filter)
}

func summaryOf(details map[string]any) string {
	if details == nil {
		return ""
	}
	if s, ok := details["summary"].(string); ok {
		return s
	}
	if s, ok := details["note"].(string); ok {
		return s
	}
	return ""
}
