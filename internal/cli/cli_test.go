package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/beylesys/Kacheri-sub002/internal/artifact"
	"github.com/beylesys/Kacheri-sub002/internal/nightly"
	"github.com/beylesys/Kacheri-sub002/internal/packet"
	"github.com/beylesys/Kacheri-sub002/internal/reconcile"
	"github.com/beylesys/Kacheri-sub002/internal/store"
	"github.com/beylesys/Kacheri-sub002/internal/verify"
)

type fakeStore struct {
	records []store.ProofRecord
	reports []store.VerificationReport
}

func (f *fakeStore) InsertProof(_ context.Context, rec store.ProofRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) ProofExists(_ context.Context, subjectID, kind, hash string) (bool, error) {
	for _, rec := range f.records {
		if rec.SubjectID == subjectID && rec.Kind == kind && rec.Hash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListProofs(_ context.Context, filter store.ProofFilter) ([]store.ProofRecord, error) {
	out := make([]store.ProofRecord, 0)
	for _, rec := range f.records {
		if filter.SubjectID != "" && rec.SubjectID != filter.SubjectID {
			continue
		}
		if len(filter.Kinds) > 0 {
			match := false
			for _, k := range filter.Kinds {
				if rec.Kind == k {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeStore) DeleteProof(_ context.Context, id string) error {
	for i, rec := range f.records {
		if rec.ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) InsertVerificationReport(_ context.Context, rep store.VerificationReport) error {
	f.reports = append(f.reports, rep)
	return nil
}

func (f *fakeStore) PruneVerificationReports(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func newTestApp(t *testing.T, st *fakeStore, artifacts artifact.Store) *App {
	t.Helper()
	return &App{
		Scanner:  reconcile.NewScanner(st, artifacts),
		Replayer: verify.NewReplayer(st, artifacts, 2, time.Second),
		Orchestrator: nightly.New(
			verify.New(st, artifacts, 2, time.Second),
			verify.NewReplayer(st, artifacts, 2, time.Second),
			st,
			nightly.Options{ReportsDir: t.TempDir(), TaskBudget: 5 * time.Second, TriggeredBy: "test"},
		),
	}
}

func execute(app *App, args ...string) (string, string, error) {
	root := NewRootCommand(app)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeEvidence(t *testing.T, artifacts artifact.Store, subjectID string) (string, packet.Packet) {
	t.Helper()
	pkt, err := packet.Build("ai:compose",
		map[string]any{"prompt": "p"},
		map[string]any{"text": "out " + subjectID},
		subjectID, nil)
	if err != nil {
		t.Fatalf("Build packet: %v", err)
	}
	encoded, err := pkt.Encode()
	if err != nil {
		t.Fatalf("Encode packet: %v", err)
	}
	locator := artifact.DeriveLocator("ws_1", subjectID, "ai:compose", pkt.Timestamp)
	if err := artifacts.Write(context.Background(), locator, encoded); err != nil {
		t.Fatalf("write evidence: %v", err)
	}
	return locator, pkt
}

func TestBackfillCommandTextOutput(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	st := &fakeStore{}
	writeEvidence(t, artifacts, "doc_1")

	stdout, _, err := execute(newTestApp(t, st, artifacts), "backfill")
	if err != nil {
		t.Fatalf("backfill failed: %v", err)
	}
	if !strings.Contains(stdout, "inserted 1") {
		t.Errorf("unexpected output: %q", stdout)
	}
	if len(st.records) != 1 {
		t.Errorf("expected one inserted record, got %d", len(st.records))
	}
}

func TestBackfillCommandDryRun(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	st := &fakeStore{}
	writeEvidence(t, artifacts, "doc_1")

	stdout, _, err := execute(newTestApp(t, st, artifacts), "backfill", "--dry-run")
	if err != nil {
		t.Fatalf("backfill failed: %v", err)
	}
	if !strings.Contains(stdout, "would insert 1") {
		t.Errorf("unexpected output: %q", stdout)
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	var resp Response
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &resp); err != nil {
		t.Fatalf("final line is not a JSON response: %v\n%s", err, stdout)
	}
	if resp.Status != "ok" {
		t.Errorf("expected ok status, got %q", resp.Status)
	}
	data, _ := resp.Data.(map[string]any)
	if data["inserted"] != float64(0) || data["wouldInsert"] != float64(1) {
		t.Errorf("dry run summary must report zero inserts, got %v", data)
	}
	if len(st.records) != 0 {
		t.Errorf("dry run must not insert, got %d records", len(st.records))
	}
}

func TestReplayCommandExitsOneOnDrift(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	st := &fakeStore{}
	ctx := context.Background()

	pkt, err := packet.Build("ai:compose",
		map[string]any{"prompt": "p"},
		map[string]any{"text": "original"},
		"doc_1", nil)
	if err != nil {
		t.Fatalf("Build packet: %v", err)
	}
	drifted := pkt
	drifted.Output = map[string]any{"text": "edited"}
	encoded, err := drifted.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	locator := artifact.DeriveLocator("ws_1", "doc_1", "ai:compose", pkt.Timestamp)
	if err := artifacts.Write(ctx, locator, encoded); err != nil {
		t.Fatalf("write: %v", err)
	}
	st.records = append(st.records, store.ProofRecord{
		ID: "prf_1", SubjectID: "doc_1", Kind: "ai:compose", Hash: pkt.ContentHash(), Path: locator,
	})

	_, _, err = execute(newTestApp(t, st, artifacts), "replay")
	if err == nil {
		t.Fatal("drift must produce a non-zero exit")
	}
	if GetExitCode(err) != ExitFailure {
		t.Errorf("drift is a finding, not a command error: exit %d", GetExitCode(err))
	}
}

func TestReplayCommandCleanPass(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	st := &fakeStore{}
	locator, pkt := writeEvidence(t, artifacts, "doc_1")
	st.records = append(st.records, store.ProofRecord{
		ID: "prf_1", SubjectID: "doc_1", Kind: "ai:compose", Hash: pkt.ContentHash(), Path: locator,
	})

	stdout, _, err := execute(newTestApp(t, st, artifacts), "replay")
	if err != nil {
		t.Fatalf("clean replay must exit 0: %v", err)
	}
	if !strings.Contains(stdout, "1 pass") {
		t.Errorf("unexpected output: %q", stdout)
	}
}

func TestCleanStaleCommandReportsOnly(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	st := &fakeStore{records: []store.ProofRecord{
		{ID: "prf_stale", SubjectID: "doc_1", Kind: "export:pdf", Hash: "sha256:a", Path: "ws_1/exports/gone.pdf"},
	}}

	stdout, _, err := execute(newTestApp(t, st, artifacts), "clean-stale")
	if err != nil {
		t.Fatalf("reporting run must exit 0: %v", err)
	}
	if !strings.Contains(stdout, "1 stale rows (0 deleted)") {
		t.Errorf("unexpected output: %q", stdout)
	}
	if len(st.records) != 1 {
		t.Error("reporting run must not delete rows")
	}
}

func TestCleanStaleCommandDeletes(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	st := &fakeStore{records: []store.ProofRecord{
		{ID: "prf_stale", SubjectID: "doc_1", Kind: "export:pdf", Hash: "sha256:a", Path: "ws_1/exports/gone.pdf"},
	}}

	_, _, err := execute(newTestApp(t, st, artifacts), "clean-stale", "--delete-db-stale")
	if err != nil {
		t.Fatalf("clean-stale failed: %v", err)
	}
	if len(st.records) != 0 {
		t.Error("stale row must be deleted with --delete-db-stale")
	}
}

func TestNightlyVerifyCommandPass(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	st := &fakeStore{}

	stdout, _, err := execute(newTestApp(t, st, artifacts), "nightly-verify")
	if err != nil {
		t.Fatalf("empty stores verify clean: %v", err)
	}
	if !strings.Contains(stdout, "pass") {
		t.Errorf("unexpected output: %q", stdout)
	}
	if len(st.reports) != 1 {
		t.Errorf("report row must be persisted, got %d", len(st.reports))
	}
}

func TestNightlyVerifyCommandExitsOneOnMiss(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	st := &fakeStore{records: []store.ProofRecord{
		{ID: "prf_1", SubjectID: "doc_1", Kind: "export:pdf", Hash: "sha256:x", Path: "ws_1/exports/gone.pdf"},
	}}

	_, _, err := execute(newTestApp(t, st, artifacts), "nightly-verify")
	if err == nil {
		t.Fatal("partial run must produce a non-zero exit")
	}
	if GetExitCode(err) != ExitFailure {
		t.Errorf("partial is a finding, not a command error: exit %d", GetExitCode(err))
	}
}

func TestCommandOutputEndsWithMachineLine(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	stdout, _, err := execute(newTestApp(t, &fakeStore{}, artifacts), "clean-stale")
	if err != nil {
		t.Fatalf("clean-stale failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected a human summary before the machine line, got %q", stdout)
	}
	var resp Response
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &resp); err != nil {
		t.Fatalf("final line is not a JSON response: %v\n%s", err, stdout)
	}
	if resp.Status != "ok" {
		t.Errorf("expected ok status, got %q", resp.Status)
	}
	for _, line := range lines[:len(lines)-1] {
		if strings.HasPrefix(line, "{") {
			t.Errorf("only the final line may be JSON, got %q", line)
		}
	}
}
