package alertpostgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/lib/pq"

	"threatlog/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id          TEXT PRIMARY KEY,
	owner       TEXT        NOT NULL,
	alert_type  TEXT        NOT NULL,
	severity    TEXT        NOT NULL,
	description TEXT        NOT NULL,
	source_ip   TEXT,
	metadata    JSONB       NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (owner, created_at DESC);
`

// Config configures the PostgreSQL alert sink.
type Config struct {
	DSN   string
	Table string
}

// Writer inserts alert records into PostgreSQL.
type Writer struct {
	db    *sql.DB
	table string
}

// NewWriter opens the database and verifies connectivity.
func NewWriter(cfg Config) (*Writer, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres alert dsn is empty")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewWithDB(db, cfg.Table), nil
}

// NewWithDB wraps an open handle.
func NewWithDB(db *sql.DB, table string) *Writer {
	if strings.TrimSpace(table) == "" {
		table = "alerts"
	}
	return &Writer{db: db, table: table}
}

// EnsureSchema creates the alerts table.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(schema, pq.QuoteIdentifier(w.table), pq.QuoteIdentifier(w.table+"_owner_idx"))
	if _, err := w.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create %s table: %w", w.table, err)
	}
	return nil
}

// WriteAlerts inserts the batch in one transaction. Records already present
// by ID are left untouched.
func (w *Writer) WriteAlerts(ctx context.Context, records []*models.AlertRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin alert insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`INSERT INTO %s (id, owner, alert_type, severity, description, source_ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`, pq.QuoteIdentifier(w.table))
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare alert insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode alert metadata: %w", err)
		}
		var source sql.NullString
		if r.SourceIP != "" {
			source = sql.NullString{String: r.SourceIP, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Owner, string(r.AlertType), string(r.Severity), r.Description, source, string(meta), r.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert alert %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit alerts: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}
