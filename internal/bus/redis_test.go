package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*RedisPublisher, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	pub, err := NewRedisPublisher("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis publisher: %v", err)
	}
	return pub, s
}

func TestChannelNaming(t *testing.T) {
	if got := Channel("ws_1"); got != "proofs:workspace:ws_1" {
		t.Errorf("unexpected workspace channel: %q", got)
	}
	if got := Channel(""); got != "proofs:global" {
		t.Errorf("unexpected global channel: %q", got)
	}
}

func TestPublishProofRecorded(t *testing.T) {
	pub, s := setupTestRedis(t)
	defer pub.Close()
	defer s.Close()

	ctx := context.Background()

	sub := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer sub.Close()
	pubsub := sub.Subscribe(ctx, Channel("ws_1"))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	ev := ProofRecorded{
		WorkspaceID: "ws_1",
		SubjectID:   "doc_1",
		Kind:        "export:pdf",
		Hash:        "sha256:abc",
		TS:          1712000000123,
	}
	if err := pub.PublishProofRecorded(ctx, ev); err != nil {
		t.Fatalf("PublishProofRecorded failed: %v", err)
	}

	msgCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := pubsub.ReceiveMessage(msgCtx)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}

	var got ProofRecorded
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if got != ev {
		t.Errorf("expected %+v, got %+v", ev, got)
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	pub, s := setupTestRedis(t)
	defer s.Close()

	if err := pub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	err := pub.PublishProofRecorded(context.Background(), ProofRecorded{SubjectID: "doc_1"})
	if err == nil {
		t.Error("expected error publishing on a closed client")
	}
}
