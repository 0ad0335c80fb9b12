// Package bus carries best-effort broadcasts of newly recorded proofs to
// workspace listeners. The proof store publishes through an injected
// Publisher and never blocks on, or fails because of, delivery.
package bus

import "context"

// ProofRecorded is the broadcast envelope for one new proof record.
type ProofRecorded struct {
	WorkspaceID string `json:"workspaceId,omitempty"`
	SubjectID   string `json:"subjectId"`
	Kind        string `json:"kind"`
	Hash        string `json:"hash"`
	Path        string `json:"path,omitempty"`
	TS          int64  `json:"ts"`
}

// Publisher delivers proof broadcasts. Implementations must be safe for
// concurrent use; delivery failures are the caller's to log and swallow.
type Publisher interface {
	PublishProofRecorded(ctx context.Context, ev ProofRecorded) error
}

// NopPublisher drops every broadcast. Used when Redis is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishProofRecorded(context.Context, ProofRecorded) error {
	return nil
}
