package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/IsaacHuo/agent-firewall/internal/domain/audit"
)

// SQLiteStore implements audit.Store on top of a single-file SQLite
// database, giving indexed paginated queries the file-backed store's
// in-memory cache cannot provide.
type SQLiteStore struct {
	db *sql.DB
}

var _ audit.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if necessary) the SQLite database at
// dbPath in WAL mode and ensures the audit_records schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_records (
			request_id TEXT PRIMARY KEY,
			arrival_time TIMESTAMP NOT NULL,
			decided_at TIMESTAMP NOT NULL,
			session_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			method TEXT NOT NULL,
			payload_sha256 TEXT NOT NULL,
			l1_level TEXT NOT NULL,
			l1_patterns TEXT,
			l1_base64_depth INTEGER NOT NULL DEFAULT 0,
			l2_is_injection TEXT NOT NULL,
			l2_confidence REAL NOT NULL,
			l2_reasoning TEXT,
			verdict TEXT NOT NULL,
			reason TEXT NOT NULL,
			human_actor_id TEXT,
			latency_micros INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_decided_at ON audit_records(decided_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_verdict ON audit_records(verdict)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// Append inserts records synchronously within a single transaction.
// SQLite's own write-ahead log absorbs the batching concern the
// file-based store implements with an explicit queue, so Append writes
// directly rather than adding a second queueing layer on top of WAL.
func (s *SQLiteStore) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO audit_records (
			request_id, arrival_time, decided_at, session_id, agent_id, method,
			payload_sha256, l1_level, l1_patterns, l1_base64_depth, l2_is_injection, l2_confidence,
			l2_reasoning, verdict, reason, human_actor_id, latency_micros
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		patterns, err := json.Marshal(rec.L1Patterns)
		if err != nil {
			return fmt.Errorf("marshal l1 patterns: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			rec.RequestID, rec.ArrivalTime, rec.DecidedAt, rec.SessionID, rec.AgentID, rec.Method,
			rec.PayloadSHA256, rec.L1Level, string(patterns), rec.L1Base64Depth, rec.L2IsInjection, rec.L2Confidence,
			rec.L2Reasoning, rec.Verdict, rec.Reason, rec.HumanActorID, rec.LatencyMicros,
		)
		if err != nil {
			return fmt.Errorf("insert audit record %s: %w", rec.RequestID, err)
		}
	}

	return tx.Commit()
}

// Flush is a no-op: Append commits the records of each call in one
// transaction before returning, so there is nothing buffered to flush.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Query returns records matching filter, most recently decided first.
func (s *SQLiteStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = audit.DefaultQueryLimit
	}
	if limit > audit.MaxQueryLimit {
		limit = audit.MaxQueryLimit
	}

	query := `SELECT request_id, arrival_time, decided_at, session_id, agent_id, method,
		payload_sha256, l1_level, l1_patterns, l1_base64_depth, l2_is_injection, l2_confidence,
		l2_reasoning, verdict, reason, human_actor_id, latency_micros
		FROM audit_records WHERE 1=1`
	args := []any{}

	if filter.Verdict != "" {
		query += " AND verdict = ?"
		args = append(args, filter.Verdict)
	}
	if !filter.Since.IsZero() {
		query += " AND decided_at >= ?"
		args = append(args, filter.Since)
	}
	query += " ORDER BY decided_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []audit.Record
	for rows.Next() {
		var rec audit.Record
		var patterns string
		var arrival, decided time.Time

		err := rows.Scan(
			&rec.RequestID, &arrival, &decided, &rec.SessionID, &rec.AgentID, &rec.Method,
			&rec.PayloadSHA256, &rec.L1Level, &patterns, &rec.L1Base64Depth, &rec.L2IsInjection, &rec.L2Confidence,
			&rec.L2Reasoning, &rec.Verdict, &rec.Reason, &rec.HumanActorID, &rec.LatencyMicros,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.ArrivalTime = arrival
		rec.DecidedAt = decided
		if patterns != "" {
			if err := json.Unmarshal([]byte(patterns), &rec.L1Patterns); err != nil {
				return nil, fmt.Errorf("unmarshal l1 patterns: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}

	return records, nil
}
