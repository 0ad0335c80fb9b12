package store

import (
	"encoding/json"
	"time"
)

// ProvenanceEvent is one append-only "who did what to which subject" row.
// Rows are never mutated; reconciliation tooling is the only deleter.
type ProvenanceEvent struct {
	ID          int64
	SubjectID   string
	Action      string
	Actor       string // actor type: human | ai | system
	ActorID     string
	WorkspaceID string
	TS          int64 // wall-clock milliseconds at append
	Details     map[string]any
}

// ProofRecord references a proof packet or artifact by content hash and
// storage locator. Hash always carries the "sha256:" prefix. Path may be
// empty for text-only proofs.
type ProofRecord struct {
	ID              string
	SubjectID       string
	Kind            string
	Hash            string
	Path            string
	Meta            map[string]any
	TS              int64
	WorkspaceID     string
	CreatedBy       string
	StorageKey      string
	StorageProvider string
}

// VerificationReport is one orchestrator run's outcome.
type VerificationReport struct {
	ID           string
	CreatedAt    time.Time
	Status       string // pass | fail | partial
	ExportsPass  int
	ExportsFail  int
	ExportsMiss  int
	ComposePass  int
	ComposeDrift int
	ComposeMiss  int
	Report       json.RawMessage
	TriggeredBy  string
}

// ProofFilter narrows proof record listings. Limit 0 means the default
// page size; a negative Limit disables the cap.
type ProofFilter struct {
	SubjectID string
	Kind      string
	Kinds     []string
	Limit     int
}

// ProvenanceFilter narrows provenance listings.
type ProvenanceFilter struct {
	SubjectID string
	Action    string
	Limit     int
}
