package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SchemaVersion identifies which proof_records column layout is live.
// Resolved once at startup; every later read and write uses the fixed
// column set for that version instead of per-call column sniffing.
type SchemaVersion int

const (
	// SchemaUnknown means proof_records is absent or matches no known layout.
	SchemaUnknown SchemaVersion = iota
	// SchemaLegacy is the original layout: type / sha256 / payload.
	SchemaLegacy
	// SchemaNormalized is the current layout: kind / hash / meta.
	SchemaNormalized
)

// ErrNoProofSchema means neither the legacy nor the normalized proof_records
// layout is present. Fatal to any write that reaches the proof store.
var ErrNoProofSchema = errors.New("no usable proof_records schema found")

// proofColumns maps the three evolving column names per schema version.
// The remaining columns (id, subject_id, path, ts, ...) are stable.
type proofColumns struct {
	Kind string
	Hash string
	Meta string
}

var proofColumnSets = map[SchemaVersion]proofColumns{
	SchemaLegacy:     {Kind: "type", Hash: "sha256", Meta: "payload"},
	SchemaNormalized: {Kind: "kind", Hash: "hash", Meta: "meta"},
}

func (v SchemaVersion) String() string {
	switch v {
	case SchemaLegacy:
		return "legacy"
	case SchemaNormalized:
		return "normalized"
	default:
		return "unknown"
	}
}

// ResolveProofSchema inspects proof_records once and returns the version its
// columns match.
func ResolveProofSchema(ctx context.Context, db *sql.DB) (SchemaVersion, error) {
	columns, err := tableColumns(ctx, db, "proof_records")
	if err != nil {
		return SchemaUnknown, err
	}
	if columns["kind"] && columns["hash"] && columns["meta"] {
		return SchemaNormalized, nil
	}
	if columns["type"] && columns["sha256"] && columns["payload"] {
		return SchemaLegacy, nil
	}
	return SchemaUnknown, ErrNoProofSchema
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_name = $1
	`, table)
	if err != nil {
		return nil, fmt.Errorf("inspect %s columns: %w", table, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		columns[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}
