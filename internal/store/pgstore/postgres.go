// Package pgstore persists events in PostgreSQL and serves both the rule
// windows and the tenant analytics queries.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"threatlog/internal/store"
	"threatlog/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id               BIGSERIAL PRIMARY KEY,
	owner            TEXT        NOT NULL,
	source_ip        TEXT        NOT NULL DEFAULT '',
	destination_port INTEGER,
	event            TEXT        NOT NULL DEFAULT '',
	severity         TEXT        NOT NULL,
	score            INTEGER     NOT NULL DEFAULT 0,
	reasons          TEXT[]      NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (owner, source_ip, created_at);
`

// Config configures the PostgreSQL event store.
type Config struct {
	DSN          string
	Table        string
	MaxOpenConns int
}

// Store is a PostgreSQL-backed store.EventStore.
type Store struct {
	db    *sql.DB
	table string
	clock store.Monotonic
}

// New opens the database and verifies connectivity.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
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
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewWithDB(db, cfg.Table), nil
}

// NewWithDB wraps an open handle.
func NewWithDB(db *sql.DB, table string) *Store {
	if strings.TrimSpace(table) == "" {
		table = "events"
	}
	return &Store{
		db:    db,
		table: table,
		clock: store.Monotonic{Resolution: time.Microsecond},
	}
}

// EnsureSchema creates the events table and its window index.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(schema, pq.QuoteIdentifier(s.table), pq.QuoteIdentifier(s.table+"_window_idx"))); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Append inserts one event row.
func (s *Store) Append(ctx context.Context, event *models.Event) error {
	if event == nil {
		return nil
	}
	if event.Owner == "" {
		return models.ErrMissingOwner
	}
	event.Timestamp = s.clock.Next(event.Timestamp)

	var port sql.NullInt64
	if event.HasDestinationPort() {
		port = sql.NullInt64{Int64: int64(event.Port()), Valid: true}
	}
	reasons := event.Reasons
	if reasons == nil {
		reasons = []string{}
	}

	query := fmt.Sprintf(`INSERT INTO %s (owner, source_ip, destination_port, event, severity, score, reasons, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, pq.QuoteIdentifier(s.table))
	_, err := s.db.ExecContext(ctx, query,
		event.Owner, event.SourceIP, port, event.Text, string(event.Severity), event.Score,
		pq.Array(reasons), event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// where renders the window predicate of q starting at placeholder $1.
func where(q store.Query) (string, []interface{}) {
	clauses := []string{"owner = $1", "source_ip = $2", "created_at >= $3"}
	args := []interface{}{q.Owner, q.SourceIP, q.Since}
	if q.Filter.RequireDestinationPort {
		clauses = append(clauses, "destination_port IS NOT NULL")
	}
	if q.Filter.TextContains != "" {
		args = append(args, "%"+escapeLike(q.Filter.TextContains)+"%")
		clauses = append(clauses, fmt.Sprintf("event ILIKE $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// CountMatching counts q's window.
func (s *Store) CountMatching(ctx context.Context, q store.Query) (int, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	cond, args := where(q)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", pq.QuoteIdentifier(s.table), cond)

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// DistinctMatching returns distinct values of field in q's window ordered by
// first appearance.
func (s *Store) DistinctMatching(ctx context.Context, q store.Query, field store.Field) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var column string
	switch field {
	case store.FieldDestinationPort:
		column = "destination_port"
	case store.FieldText:
		column = "event"
	default:
		return nil, fmt.Errorf("%w: %s", store.ErrUnsupportedField, field)
	}

	cond, args := where(q)
	query := fmt.Sprintf("SELECT %[1]s::text FROM %[2]s WHERE %[3]s AND %[1]s IS NOT NULL GROUP BY %[1]s ORDER BY MIN(id)",
		column, pq.QuoteIdentifier(s.table), cond)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct %s: %w", column, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distinct %s: %w", column, err)
	}
	return out, nil
}

// SeverityCounts groups a tenant's events by severity, highest first.
func (s *Store) SeverityCounts(ctx context.Context, owner string) ([]models.SeverityCount, error) {
	if owner == "" {
		return nil, models.ErrMissingOwner
	}
	query := fmt.Sprintf("SELECT severity, COUNT(*) FROM %s WHERE owner = $1 GROUP BY severity", pq.QuoteIdentifier(s.table))
	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("query severity counts: %w", err)
	}
	defer rows.Close()

	out := make([]models.SeverityCount, 0)
	for rows.Next() {
		var sc models.SeverityCount
		var sev string
		if err := rows.Scan(&sev, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan severity count: %w", err)
		}
		sc.Severity = models.Severity(sev)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate severity counts: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Severity.Rank() > out[j].Severity.Rank() })
	return out, nil
}

// TopEvents returns a tenant's most frequent event texts.
func (s *Store) TopEvents(ctx context.Context, owner string, limit int) ([]models.EventCount, error) {
	if owner == "" {
		return nil, models.ErrMissingOwner
	}
	query := fmt.Sprintf("SELECT event, COUNT(*) AS n FROM %s WHERE owner = $1 GROUP BY event ORDER BY n DESC, MIN(id)", pq.QuoteIdentifier(s.table))
	args := []interface{}{owner}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query top events: %w", err)
	}
	defer rows.Close()

	out := make([]models.EventCount, 0)
	for rows.Next() {
		var ec models.EventCount
		if err := rows.Scan(&ec.Event, &ec.Count); err != nil {
			return nil, fmt.Errorf("scan top event: %w", err)
		}
		out = append(out, ec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top events: %w", err)
	}
	return out, nil
}

// RecentBySeverity returns a tenant's newest events at severity.
func (s *Store) RecentBySeverity(ctx context.Context, owner string, severity models.Severity, limit int) ([]*models.Event, error) {
	if owner == "" {
		return nil, models.ErrMissingOwner
	}
	query := fmt.Sprintf(`SELECT owner, source_ip, destination_port, event, severity, score, reasons, created_at
		FROM %s WHERE owner = $1 AND severity = $2 ORDER BY created_at DESC`, pq.QuoteIdentifier(s.table))
	args := []interface{}{owner, string(severity)}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Event, 0)
	for rows.Next() {
		var (
			ev      models.Event
			port    sql.NullInt64
			sev     string
			reasons pq.StringArray
		)
		if err := rows.Scan(&ev.Owner, &ev.SourceIP, &port, &ev.Text, &sev, &ev.Score, &reasons, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan recent event: %w", err)
		}
		if port.Valid {
			ev.DestinationPort = models.IntPtr(int(port.Int64))
		}
		ev.Severity = models.Severity(sev)
		ev.Reasons = []string(reasons)
		ev.Timestamp = ev.Timestamp.UTC()
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent events: %w", err)
	}
	return out, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
