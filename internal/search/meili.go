// Package search provides optional full-text search over provenance events
// via Meilisearch. Indexing is best-effort: the provenance log never fails
// an append because the index is down.
package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxProvenance = "kacheri_provenance"

// EventRecord is the indexed projection of one provenance event.
type EventRecord struct {
	ID          string `json:"id"`
	SubjectID   string `json:"subjectId"`
	Action      string `json:"action"`
	Actor       string `json:"actor"`
	ActorID     string `json:"actorId,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	TS          int64  `json:"ts"`
	Summary     string `json:"summary,omitempty"`
}

// Indexer receives provenance events as they are appended.
type Indexer interface {
	IndexEvent(rec EventRecord) error
}

// NopIndexer drops every event. Used when Meilisearch is not configured.
type NopIndexer struct{}

func (NopIndexer) IndexEvent(EventRecord) error { return nil }

// Meili indexes and searches provenance events via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the provenance index.
// An unreachable server is tolerated; a background loop reconfigures once it
// recovers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxProvenance,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxProvenance, err)
	}

	index := m.client.Index(idxProvenance)
	filterable := []interface{}{"subjectId", "workspaceId", "action", "actor"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxProvenance, err)
	}
	searchable := []string{"summary", "action"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxProvenance, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexEvent adds or updates one provenance event in the index.
func (m *Meili) IndexEvent(rec EventRecord) error {
	if !m.healthy.Load() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	if _, err := m.client.Index(idxProvenance).AddDocuments([]EventRecord{rec}, nil); err != nil {
		return fmt.Errorf("index provenance event: %w", err)
	}
	return nil
}

// Search queries provenance events, optionally narrowed to one subject.
func (m *Meili) Search(q string, subjectID string, limit int) ([]EventRecord, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 20
	}

	req := &meili.SearchRequest{Limit: int64(limit)}
	if subjectID != "" {
		req.Filter = []string{fmt.Sprintf("subjectId = %q", subjectID)}
	}

	resp, err := m.client.Index(idxProvenance).Search(q, req)
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]EventRecord, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		raw, err := json.Marshal(hit)
		if err != nil {
			continue
		}
		var rec EventRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		results = append(results, rec)
	}
	return results, nil
}
