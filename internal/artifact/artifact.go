// Package artifact abstracts where proof evidence and exported artifacts
// live. Two backends share one interface: a filesystem root and a MinIO
// bucket, so verification and reconciliation walk either through the same
// code path.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotExist marks a locator that resolves to nothing readable.
var ErrNotExist = errors.New("artifact does not exist")

// Store is the storage surface the verifier and scanner run against.
// Locators are slash-separated keys relative to the store root.
type Store interface {
	ReadAll(ctx context.Context, locator string) ([]byte, error)
	Stat(ctx context.Context, locator string) error
	Write(ctx context.Context, locator string, data []byte) error
	Remove(ctx context.Context, locator string) error
	// Walk visits every stored locator. A missing root is zero work, not an
	// error. Returning an error from fn stops the walk.
	Walk(ctx context.Context, fn func(locator string) error) error
	Provider() string
}

// Ref is a locator decomposed by the naming convention
// {workspaceOrGlobal}/proofs/subject-{id}/{ts}-{kind}.
type Ref struct {
	WorkspaceID string // "" when the locator is under global/
	SubjectID   string
	Kind        string
	TS          int64
}

// DeriveLocator builds the conventional locator for a proof so later
// reconciliation can find the file by name alone.
func DeriveLocator(workspaceID, subjectID, kind string, ts int64) string {
	scope := workspaceID
	if scope == "" {
		scope = "global"
	}
	return fmt.Sprintf("%s/proofs/subject-%s/%d-%s", scope, subjectID, ts, kind)
}

// ParseLocator inverts DeriveLocator. Files outside the convention return
// ok=false and are ignored by backfill.
func ParseLocator(locator string) (Ref, bool) {
	parts := strings.Split(locator, "/")
	if len(parts) != 4 || parts[1] != "proofs" {
		return Ref{}, false
	}
	subject, ok := strings.CutPrefix(parts[2], "subject-")
	if !ok || subject == "" {
		return Ref{}, false
	}
	tsRaw, kind, ok := strings.Cut(parts[3], "-")
	if !ok || kind == "" {
		return Ref{}, false
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return Ref{}, false
	}
	ref := Ref{SubjectID: subject, Kind: kind, TS: ts}
	if parts[0] != "global" {
		ref.WorkspaceID = parts[0]
	}
	return ref, true
}
