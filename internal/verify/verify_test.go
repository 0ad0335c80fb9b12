package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/beylesys/Kacheri-sub002/internal/artifact"
	"github.com/beylesys/Kacheri-sub002/internal/packet"
	"github.com/beylesys/Kacheri-sub002/internal/store"
)

type fakeLister struct {
	records []store.ProofRecord
	calls   []store.ProofFilter
}

func (f *fakeLister) ListProofs(_ context.Context, filter store.ProofFilter) ([]store.ProofRecord, error) {
	f.calls = append(f.calls, filter)
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

func rawHashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return packet.HashPrefix + hex.EncodeToString(sum[:])
}

func TestVerifyClassifications(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	ctx := context.Background()

	good := []byte("intact export bytes")
	if err := artifacts.Write(ctx, "ws_1/exports/good.pdf", good); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := artifacts.Write(ctx, "ws_1/exports/tampered.pdf", []byte("rewritten")); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	lister := &fakeLister{records: []store.ProofRecord{
		{ID: "prf_1", SubjectID: "doc_1", Kind: "export:pdf", Hash: rawHashOf(good), Path: "ws_1/exports/good.pdf"},
		{ID: "prf_2", SubjectID: "doc_1", Kind: "export:pdf", Hash: rawHashOf(good), Path: "ws_1/exports/tampered.pdf"},
		{ID: "prf_3", SubjectID: "doc_1", Kind: "export:pdf", Hash: rawHashOf(good), Path: "ws_1/exports/vanished.pdf"},
		{ID: "prf_4", SubjectID: "doc_1", Kind: "ai:rewrite", Hash: "sha256:textonly"},
	}}

	sum, results, err := New(lister, artifacts, 4, time.Second).Run(ctx, store.ProofFilter{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Total != 4 || sum.Pass != 1 || sum.Fail != 1 || sum.Miss != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	byID := map[string]Result{}
	for _, r := range results {
		byID[r.RecordID] = r
	}
	if byID["prf_1"].Status != StatusPass {
		t.Errorf("intact artifact must pass, got %+v", byID["prf_1"])
	}
	if byID["prf_2"].Status != StatusFail {
		t.Errorf("tampered artifact must fail, got %+v", byID["prf_2"])
	}
	if byID["prf_3"].Status != StatusMiss {
		t.Errorf("vanished artifact must be a miss, got %+v", byID["prf_3"])
	}
	if byID["prf_4"].Status != StatusMiss || byID["prf_4"].Reason != "no artifact locator" {
		t.Errorf("text-only record must be a miss, got %+v", byID["prf_4"])
	}
}

func TestVerifyAcceptsEvidencePackets(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	ctx := context.Background()

	pkt, err := packet.Build("ai:compose",
		map[string]any{"prompt": "p"},
		map[string]any{"text": "generated"},
		"doc_1", nil)
	if err != nil {
		t.Fatalf("Build packet: %v", err)
	}
	encoded, err := pkt.Encode()
	if err != nil {
		t.Fatalf("Encode packet: %v", err)
	}
	locator := artifact.DeriveLocator("ws_1", "doc_1", "ai:compose", pkt.Timestamp)
	if err := artifacts.Write(ctx, locator, encoded); err != nil {
		t.Fatalf("write evidence: %v", err)
	}

	lister := &fakeLister{records: []store.ProofRecord{
		{ID: "prf_1", SubjectID: "doc_1", Kind: "ai:compose", Hash: pkt.ContentHash(), Path: locator},
	}}

	sum, _, err := New(lister, artifacts, 2, time.Second).Run(ctx, store.ProofFilter{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Pass != 1 {
		t.Errorf("packet-backed record must pass, got %+v", sum)
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	ctx := context.Background()
	data := []byte("stable")
	if err := artifacts.Write(ctx, "global/exports/a", data); err != nil {
		t.Fatalf("write: %v", err)
	}
	lister := &fakeLister{records: []store.ProofRecord{
		{ID: "prf_1", SubjectID: "doc_1", Kind: "export:pdf", Hash: rawHashOf(data), Path: "global/exports/a"},
	}}
	v := New(lister, artifacts, 2, time.Second)

	first, _, err := v.Run(ctx, store.ProofFilter{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	second, _, err := v.Run(ctx, store.ProofFilter{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if first != second {
		t.Errorf("summaries differ across runs: %+v vs %+v", first, second)
	}
}

func TestReplayDetectsDrift(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	ctx := context.Background()

	pkt, err := packet.Build("ai:compose",
		map[string]any{"prompt": "p"},
		map[string]any{"text": "original"},
		"doc_1", nil)
	if err != nil {
		t.Fatalf("Build packet: %v", err)
	}
	encoded, err := pkt.Encode()
	if err != nil {
		t.Fatalf("Encode packet: %v", err)
	}
	goodLoc := artifact.DeriveLocator("ws_1", "doc_1", "ai:compose", pkt.Timestamp)
	if err := artifacts.Write(ctx, goodLoc, encoded); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Same packet with its output swapped after hashing: the recorded
	// hashes no longer describe the stored content.
	drifted := pkt
	drifted.Output = map[string]any{"text": "someone edited this"}
	driftedBytes, err := drifted.Encode()
	if err != nil {
		t.Fatalf("Encode drifted packet: %v", err)
	}
	if err := artifacts.Write(ctx, "ws_1/proofs/subject-doc_2/1-ai:compose", driftedBytes); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := artifacts.Write(ctx, "ws_1/proofs/subject-doc_3/1-ai:compose", []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	lister := &fakeLister{records: []store.ProofRecord{
		{ID: "prf_1", SubjectID: "doc_1", Kind: "ai:compose", Hash: pkt.ContentHash(), Path: goodLoc},
		{ID: "prf_2", SubjectID: "doc_2", Kind: "ai:compose", Hash: pkt.ContentHash(), Path: "ws_1/proofs/subject-doc_2/1-ai:compose"},
		{ID: "prf_3", SubjectID: "doc_3", Kind: "ai:compose", Hash: "sha256:x", Path: "ws_1/proofs/subject-doc_3/1-ai:compose"},
		{ID: "prf_4", SubjectID: "doc_4", Kind: "ai:compose", Hash: "sha256:y", Path: "ws_1/proofs/subject-doc_4/1-ai:compose"},
		{ID: "prf_5", SubjectID: "doc_5", Kind: "export:pdf", Hash: "sha256:z", Path: "ws_1/exports/ignored.pdf"},
	}}

	sum, results, err := NewReplayer(lister, artifacts, 4, time.Second).Run(ctx, "", "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Total != 4 {
		t.Fatalf("non-AI kinds must be excluded, got total %d", sum.Total)
	}
	if sum.Pass != 1 || sum.Drift != 2 || sum.Miss != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Rerun != 2 {
		t.Errorf("only decodable packets count as reruns, got %d", sum.Rerun)
	}

	byID := map[string]Result{}
	for _, r := range results {
		byID[r.RecordID] = r
	}
	if byID["prf_2"].Status != StatusDrift {
		t.Errorf("edited output must be drift, got %+v", byID["prf_2"])
	}
	if byID["prf_3"].Status != StatusDrift || byID["prf_3"].Reason != "evidence packet corrupt" {
		t.Errorf("undecodable packet must be drift, got %+v", byID["prf_3"])
	}
	if byID["prf_4"].Status != StatusMiss {
		t.Errorf("missing packet must be a miss, got %+v", byID["prf_4"])
	}
}

func TestReplayScopesToSubject(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	lister := &fakeLister{records: []store.ProofRecord{
		{ID: "prf_1", SubjectID: "doc_1", Kind: "ai:compose", Hash: "sha256:a", Path: ""},
		{ID: "prf_2", SubjectID: "doc_2", Kind: "ai:compose", Hash: "sha256:b", Path: ""},
	}}

	sum, _, err := NewReplayer(lister, artifacts, 2, time.Second).Run(context.Background(), "doc_1", "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Total != 1 {
		t.Errorf("subject scope must narrow the run, got total %d", sum.Total)
	}
}

func TestReplayKindFilter(t *testing.T) {
	artifacts := artifact.NewFSStore(t.TempDir())
	lister := &fakeLister{records: []store.ProofRecord{
		{ID: "prf_1", SubjectID: "doc_1", Kind: "ai:compose", Hash: "sha256:a"},
		{ID: "prf_2", SubjectID: "doc_1", Kind: "ai:rewrite", Hash: "sha256:b"},
	}}
	r := NewReplayer(lister, artifacts, 2, time.Second)

	sum, _, err := r.Run(context.Background(), "", "ai:compose")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Total != 1 {
		t.Errorf("kind filter must narrow the run, got total %d", sum.Total)
	}

	if _, _, err := r.Run(context.Background(), "", "export:pdf"); err == nil {
		t.Fatal("non-AI kind must be rejected")
	}
}

func TestReplayReadsEveryRow(t *testing.T) {
	lister := &fakeLister{}
	r := NewReplayer(lister, artifact.NewFSStore(t.TempDir()), 2, time.Second)

	if _, _, err := r.Run(context.Background(), "", ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(lister.calls) != 1 {
		t.Fatalf("expected one listing, got %d", len(lister.calls))
	}
	if lister.calls[0].Limit >= 0 {
		t.Errorf("replay must disable the listing cap, got filter %+v", lister.calls[0])
	}
}
