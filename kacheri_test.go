package kacheri

import (
	"context"
	"testing"

	"github.com/beylesys/Kacheri-sub002/internal/config"
)

func TestBuildNotifiersDisabledByDefault(t *testing.T) {
	if got := buildNotifiers(config.Config{}); len(got) != 0 {
		t.Fatalf("no channels configured must mean no notifiers, got %d", len(got))
	}
}

func TestBuildNotifiersFromConfig(t *testing.T) {
	cfg := config.Config{
		WebhookURL:    "https://hooks.example.com/verify",
		WebhookSecret: "s3cret",
		SMTPHost:      "smtp.example.com",
		SMTPPort:      "587",
		SMTPFrom:      "ops@example.com",
		NotifyEmails:  "a@example.com, ,b@example.com",
	}

	got := buildNotifiers(cfg)
	if len(got) != 2 {
		t.Fatalf("expected webhook and email channels, got %d", len(got))
	}
	names := map[string]bool{}
	for _, n := range got {
		names[n.Name()] = true
	}
	if !names["webhook"] || !names["email"] {
		t.Errorf("unexpected channel names: %v", names)
	}
}

func TestBuildNotifiersEmailNeedsRecipients(t *testing.T) {
	cfg := config.Config{SMTPHost: "smtp.example.com"}
	if got := buildNotifiers(cfg); len(got) != 0 {
		t.Fatalf("SMTP without recipients must stay disabled, got %d", len(got))
	}
}

func TestBuildArtifactStoreDefaultsToFilesystem(t *testing.T) {
	st, err := buildArtifactStore(context.Background(), config.Config{ArtifactsRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("buildArtifactStore failed: %v", err)
	}
	if st.Provider() != "fs" {
		t.Errorf("default backend must be the filesystem, got %q", st.Provider())
	}
}
