// Package kacheri wires the proof and provenance subsystem together for its
// two consumers: the collaboration backend, which records proofs and
// provenance and reads timelines, and the proofs CLI, which audits and
// repairs them. Optional integrations stay disabled when unconfigured: no
// Redis means no broadcast, no Meilisearch means no indexing, no webhook or
// SMTP settings means the nightly run tells no one.
package kacheri

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/beylesys/Kacheri-sub002/internal/artifact"
	"github.com/beylesys/Kacheri-sub002/internal/bus"
	"github.com/beylesys/Kacheri-sub002/internal/config"
	"github.com/beylesys/Kacheri-sub002/internal/nightly"
	"github.com/beylesys/Kacheri-sub002/internal/notify"
	"github.com/beylesys/Kacheri-sub002/internal/proof"
	"github.com/beylesys/Kacheri-sub002/internal/provenance"
	"github.com/beylesys/Kacheri-sub002/internal/reconcile"
	"github.com/beylesys/Kacheri-sub002/internal/search"
	"github.com/beylesys/Kacheri-sub002/internal/store"
	"github.com/beylesys/Kacheri-sub002/internal/timeline"
	"github.com/beylesys/Kacheri-sub002/internal/verify"
)

// Subsystem is the wired subsystem. Proofs, Provenance and Timeline are the
// recording surface the host backend calls; Scanner, Verifier, Replayer and
// Nightly are the audit side the CLI drives.
type Subsystem struct {
	Proofs     *proof.Service
	Provenance *provenance.Log
	Timeline   *timeline.Service
	Scanner    *reconcile.Scanner
	Verifier   *verify.Verifier
	Replayer   *verify.Replayer
	Nightly    *nightly.Orchestrator

	db        *sql.DB
	publisher *bus.RedisPublisher
	indexer   *search.Meili
}

// Open loads configuration from the environment, connects the store, applies
// pending migrations, resolves the proof schema once and wires every service.
func Open(ctx context.Context) (*Subsystem, error) {
	return open(ctx, config.Load())
}

func open(ctx context.Context, cfg config.Config) (*Subsystem, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	schema, err := store.ResolveProofSchema(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("resolve proof schema: %w", err)
	}
	dataStore := store.NewPostgresStore(db, schema)

	artifacts, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	sub := &Subsystem{db: db}

	var publisher bus.Publisher = bus.NopPublisher{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisPub, err := bus.NewRedisPublisher(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect broadcast bus: %w", err)
		}
		sub.publisher = redisPub
		publisher = redisPub
	}

	var indexer search.Indexer = search.NopIndexer{}
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		sub.indexer = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		indexer = sub.indexer
	}

	sub.Proofs = proof.New(dataStore, artifacts, publisher)
	sub.Provenance = provenance.New(dataStore, indexer)
	sub.Timeline = timeline.New(dataStore)
	sub.Scanner = reconcile.NewScanner(dataStore, artifacts)
	sub.Verifier = verify.New(dataStore, artifacts, cfg.VerifyWorkers, cfg.ReadTimeout)
	sub.Replayer = verify.NewReplayer(dataStore, artifacts, cfg.VerifyWorkers, cfg.ReadTimeout)
	sub.Nightly = nightly.New(sub.Verifier, sub.Replayer, dataStore, nightly.Options{
		ReportsDir:   cfg.ReportsDir,
		TaskBudget:   cfg.SubtaskBudget,
		ReportMaxAge: cfg.ReportMaxAge,
		Notifiers:    buildNotifiers(cfg),
	})

	return sub, nil
}

// Close releases the database and any optional integration connections.
func (s *Subsystem) Close() error {
	if s.indexer != nil {
		s.indexer.Close()
	}
	if s.publisher != nil {
		_ = s.publisher.Close()
	}
	return s.db.Close()
}

func buildArtifactStore(ctx context.Context, cfg config.Config) (artifact.Store, error) {
	if cfg.StorageProvider == "s3" {
		return artifact.NewS3Store(ctx, artifact.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	if err := os.MkdirAll(cfg.ArtifactsRoot, 0o755); err != nil {
		return nil, err
	}
	return artifact.NewFSStore(cfg.ArtifactsRoot), nil
}

// buildNotifiers returns only the channels that are actually configured.
// None configured means the nightly run still happens, it just tells no one.
func buildNotifiers(cfg config.Config) []notify.Notifier {
	var notifiers []notify.Notifier
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.WebhookURL, cfg.WebhookSecret, 0))
	}
	if strings.TrimSpace(cfg.SMTPHost) != "" && strings.TrimSpace(cfg.NotifyEmails) != "" {
		var recipients []string
		for _, addr := range strings.Split(cfg.NotifyEmails, ",") {
			if trimmed := strings.TrimSpace(addr); trimmed != "" {
				recipients = append(recipients, trimmed)
			}
		}
		notifiers = append(notifiers, notify.NewEmail(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}, recipients))
	}
	return notifiers
}
