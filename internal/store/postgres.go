package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db     *sql.DB
	schema SchemaVersion
}

// NewPostgresStore wraps db with the proof schema version resolved at startup.
func NewPostgresStore(db *sql.DB, schema SchemaVersion) *PostgresStore {
	return &PostgresStore{db: db, schema: schema}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) SchemaVersion() SchemaVersion {
	return s.schema
}

func (s *PostgresStore) columns() (proofColumns, error) {
	cols, ok := proofColumnSets[s.schema]
	if !ok {
		return proofColumns{}, ErrNoProofSchema
	}
	return cols, nil
}

// InsertProof persists one proof record inside an explicit transaction so the
// caller reads its own write after return. The uniqueness constraint on
// (subject_id, kind, ts, hash) rejects accidental duplicate recording.
func (s *PostgresStore) InsertProof(ctx context.Context, rec ProofRecord) error {
	cols, err := s.columns()
	if err != nil {
		return err
	}
	meta := rec.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	encodedMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal proof meta: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO proof_records (id, subject_id, %s, %s, path, %s, ts, workspace_id, created_by, storage_key, storage_provider)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''))
	`, cols.Kind, cols.Hash, cols.Meta)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin proof tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query,
		rec.ID, rec.SubjectID, rec.Kind, rec.Hash, rec.Path, string(encodedMeta),
		rec.TS, rec.WorkspaceID, rec.CreatedBy, rec.StorageKey, rec.StorageProvider,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert proof record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit proof record: %w", err)
	}
	return nil
}

// ProofExists reports whether a record with identical (subject, kind, hash)
// is already present, regardless of timestamp. Backfill keys on this.
func (s *PostgresStore) ProofExists(ctx context.Context, subjectID, kind, hash string) (bool, error) {
	cols, err := s.columns()
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(
		`SELECT EXISTS(SELECT 1 FROM proof_records WHERE subject_id=$1 AND %s=$2 AND %s=$3)`,
		cols.Kind, cols.Hash,
	)
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, subjectID, kind, hash).Scan(&exists); err != nil {
		return false, fmt.Errorf("check proof exists: %w", err)
	}
	return exists, nil
}

// ListProofs returns proof records newest first, narrowed by the filter.
func (s *PostgresStore) ListProofs(ctx context.Context, filter ProofFilter) ([]ProofRecord, error) {
	cols, err := s.columns()
	if err != nil {
		return nil, err
	}

	var conditions []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.SubjectID != "" {
		conditions = append(conditions, "subject_id="+next(filter.SubjectID))
	}
	if filter.Kind != "" {
		conditions = append(conditions, cols.Kind+"="+next(filter.Kind))
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, 0, len(filter.Kinds))
		for _, kind := range filter.Kinds {
			placeholders = append(placeholders, next(kind))
		}
		conditions = append(conditions, fmt.Sprintf("%s IN (%s)", cols.Kind, strings.Join(placeholders, ", ")))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	// Limit 0 gets the default page; a negative limit reads everything,
	// which audits and reconciliation depend on.
	limitClause := ""
	if filter.Limit >= 0 {
		limit := filter.Limit
		if limit == 0 {
			limit = 500
		}
		limitClause = "LIMIT " + next(limit)
	}

	query := fmt.Sprintf(`
		SELECT id, subject_id, %s, %s, COALESCE(path, ''), %s, ts,
			COALESCE(workspace_id, ''), COALESCE(created_by, ''),
			COALESCE(storage_key, ''), COALESCE(storage_provider, '')
		FROM proof_records
		%s
		ORDER BY ts DESC, id DESC
		%s
	`, cols.Kind, cols.Hash, cols.Meta, where, limitClause)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proofs: %w", err)
	}
	defer rows.Close()

	items := make([]ProofRecord, 0)
	for rows.Next() {
		var item ProofRecord
		var rawMeta []byte
		if err := rows.Scan(
			&item.ID, &item.SubjectID, &item.Kind, &item.Hash, &item.Path,
			&rawMeta, &item.TS, &item.WorkspaceID, &item.CreatedBy,
			&item.StorageKey, &item.StorageProvider,
		); err != nil {
			return nil, fmt.Errorf("scan proof record: %w", err)
		}
		_ = json.Unmarshal(rawMeta, &item.Meta)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proofs: %w", err)
	}
	return items, nil
}

// GetProof fetches one record by id.
func (s *PostgresStore) GetProof(ctx context.Context, id string) (ProofRecord, error) {
	cols, err := s.columns()
	if err != nil {
		return ProofRecord{}, err
	}
	query := fmt.Sprintf(`
		SELECT id, subject_id, %s, %s, COALESCE(path, ''), %s, ts,
			COALESCE(workspace_id, ''), COALESCE(created_by, ''),
			COALESCE(storage_key, ''), COALESCE(storage_provider, '')
		FROM proof_records
		WHERE id=$1
	`, cols.Kind, cols.Hash, cols.Meta)

	var item ProofRecord
	var rawMeta []byte
	err = s.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.SubjectID, &item.Kind, &item.Hash, &item.Path,
		&rawMeta, &item.TS, &item.WorkspaceID, &item.CreatedBy,
		&item.StorageKey, &item.StorageProvider,
	)
	if err != nil {
		return ProofRecord{}, err
	}
	_ = json.Unmarshal(rawMeta, &item.Meta)
	return item, nil
}

// DeleteProof removes one record. Reconciliation tooling only; normal
// callers have no delete surface.
func (s *PostgresStore) DeleteProof(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM proof_records WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete proof record: %w", err)
	}
	return nil
}

// AppendProvenance inserts one event and returns its insertion-order id.
// Timestamp ties are broken by this id everywhere events are ordered.
func (s *PostgresStore) AppendProvenance(ctx context.Context, ev ProvenanceEvent) (int64, error) {
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	encodedDetails, err := json.Marshal(details)
	if err != nil {
		return 0, fmt.Errorf("marshal provenance details: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO provenance_events (subject_id, action, actor, actor_id, workspace_id, ts, details)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7::jsonb)
		RETURNING id
	`, ev.SubjectID, ev.Action, ev.Actor, ev.ActorID, ev.WorkspaceID, ev.TS, string(encodedDetails)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append provenance event: %w", err)
	}
	return id, nil
}

// ListProvenance returns events for a subject, newest first.
func (s *PostgresStore) ListProvenance(ctx context.Context, filter ProvenanceFilter) ([]ProvenanceEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, action, actor, COALESCE(actor_id, ''), COALESCE(workspace_id, ''), ts, details
		FROM provenance_events
		WHERE subject_id=$1 AND ($2='' OR action=$2)
		ORDER BY ts DESC, id DESC
		LIMIT $3
	`, filter.SubjectID, filter.Action, limit)
	if err != nil {
		return nil, fmt.Errorf("list provenance: %w", err)
	}
	defer rows.Close()

	items := make([]ProvenanceEvent, 0)
	for rows.Next() {
		var item ProvenanceEvent
		var rawDetails []byte
		if err := rows.Scan(
			&item.ID, &item.SubjectID, &item.Action, &item.Actor,
			&item.ActorID, &item.WorkspaceID, &item.TS, &rawDetails,
		); err != nil {
			return nil, fmt.Errorf("scan provenance event: %w", err)
		}
		_ = json.Unmarshal(rawDetails, &item.Details)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provenance: %w", err)
	}
	return items, nil
}

// InsertVerificationReport persists one orchestrator run.
func (s *PostgresStore) InsertVerificationReport(ctx context.Context, rep VerificationReport) error {
	report := rep.Report
	if len(report) == 0 {
		report = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_reports
			(id, created_at, status, exports_pass, exports_fail, exports_miss,
			 compose_pass, compose_drift, compose_miss, report, triggered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11)
	`, rep.ID, rep.CreatedAt, rep.Status,
		rep.ExportsPass, rep.ExportsFail, rep.ExportsMiss,
		rep.ComposePass, rep.ComposeDrift, rep.ComposeMiss,
		string(report), rep.TriggeredBy)
	if err != nil {
		return fmt.Errorf("insert verification report: %w", err)
	}
	return nil
}

// PruneVerificationReports applies the age-based retention policy.
func (s *PostgresStore) PruneVerificationReports(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_reports WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune verification reports: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune verification reports rows: %w", err)
	}
	return affected, nil
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IsNotFound reports whether err is the driver's no-rows sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
