package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cashbackfinance/advisor-chat/internal/domain"
	"github.com/cashbackfinance/advisor-chat/internal/shared"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	return newSQLiteStore(dbPath)
}

func newSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS visitors (
		visitor_id TEXT PRIMARY KEY,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_visitors_last_seen ON visitors(last_seen_at);

	CREATE TABLE IF NOT EXISTS lead_syncs (
		id TEXT PRIMARY KEY,
		visitor_id TEXT,
		session_id TEXT,
		status TEXT NOT NULL,
		consent_ui INTEGER NOT NULL DEFAULT 0,
		consent_chat INTEGER NOT NULL DEFAULT 0,
		has_email INTEGER NOT NULL DEFAULT 0,
		has_phone INTEGER NOT NULL DEFAULT 0,
		contact_id TEXT,
		topics_json TEXT,
		error TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_lead_syncs_created ON lead_syncs(created_at);
	CREATE INDEX IF NOT EXISTS idx_lead_syncs_status ON lead_syncs(status);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetVisitor retrieves a visitor by ID.
func (s *SQLiteStore) GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error) {
	query := `SELECT visitor_id, last_seen_at, created_at FROM visitors WHERE visitor_id = ?`

	var v domain.Visitor
	var lastSeen, createdAt int64
	err := s.db.QueryRowContext(ctx, query, visitorID).Scan(&v.ID, &lastSeen, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan visitor row: %w", err)
	}

	v.LastSeenAt = time.Unix(lastSeen, 0)
	v.CreatedAt = time.Unix(createdAt, 0)
	return &v, nil
}

// UpsertVisitor creates a visitor or refreshes its last_seen_at.
func (s *SQLiteStore) UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error {
	query := `
	INSERT INTO visitors (visitor_id, last_seen_at, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(visitor_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at`

	return s.write(ctx, "upsert visitor", func() error {
		_, err := s.db.ExecContext(ctx, query,
			visitor.ID, visitor.LastSeenAt.Unix(), visitor.CreatedAt.Unix())
		return err
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error {
	var rows int64
	err := s.write(ctx, "update last_seen", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE visitors SET last_seen_at = ? WHERE visitor_id = ?`, lastSeen.Unix(), visitorID)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "visitor_id", visitorID)
	}
	return nil
}

// RecordSync stores the outcome of one lead-sync attempt. A missing ID or
// timestamp is filled in.
func (s *SQLiteStore) RecordSync(ctx context.Context, rec *domain.LeadSync) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var topicsJSON interface{}
	if len(rec.Topics) > 0 {
		raw, err := json.Marshal(rec.Topics)
		if err != nil {
			return fmt.Errorf("encode topics: %w", err)
		}
		topicsJSON = string(raw)
	}

	query := `
	INSERT INTO lead_syncs (
		id, visitor_id, session_id, status, consent_ui, consent_chat,
		has_email, has_phone, contact_id, topics_json, error, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return s.write(ctx, "record sync", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ID, nullString(rec.VisitorID), nullString(rec.SessionID), string(rec.Status),
			rec.ConsentUI, rec.ConsentChat, rec.HasEmail, rec.HasPhone,
			nullString(rec.ContactID), topicsJSON, nullString(rec.Error),
			rec.CreatedAt.UnixMilli(),
		)
		return err
	})
}

// RecentSyncs returns the newest sync records first. Limits outside
// 1..500 fall back to 50 or are capped.
func (s *SQLiteStore) RecentSyncs(ctx context.Context, limit int) ([]*domain.LeadSync, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	query := `
		SELECT id, visitor_id, session_id, status, consent_ui, consent_chat,
		       has_email, has_phone, contact_id, topics_json, error, created_at
		FROM lead_syncs ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query lead syncs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close lead sync rows", "error", closeErr)
		}
	}()

	var out []*domain.LeadSync
	for rows.Next() {
		var rec domain.LeadSync
		var visitorID, sessionID, contactID, topicsJSON, errText sql.NullString
		var status string
		var createdAt int64

		if err := rows.Scan(
			&rec.ID, &visitorID, &sessionID, &status, &rec.ConsentUI, &rec.ConsentChat,
			&rec.HasEmail, &rec.HasPhone, &contactID, &topicsJSON, &errText, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan lead sync row: %w", err)
		}

		rec.VisitorID = visitorID.String
		rec.SessionID = sessionID.String
		rec.Status = domain.SyncStatus(status)
		rec.ContactID = contactID.String
		rec.Error = errText.String
		rec.CreatedAt = time.UnixMilli(createdAt)
		if topicsJSON.Valid && topicsJSON.String != "" {
			if err := json.Unmarshal([]byte(topicsJSON.String), &rec.Topics); err != nil {
				return nil, fmt.Errorf("decode topics for %s: %w", rec.ID, err)
			}
		}
		out = append(out, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lead syncs: %w", err)
	}

	return out, nil
}

// CountSyncsByStatus aggregates all stored records by status.
func (s *SQLiteStore) CountSyncsByStatus(ctx context.Context) (map[domain.SyncStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM lead_syncs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count lead syncs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close lead sync count rows", "error", closeErr)
		}
	}()

	counts := make(map[domain.SyncStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan lead sync count: %w", err)
		}
		counts[domain.SyncStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lead sync counts: %w", err)
	}
	return counts, nil
}

// PurgeSyncsBefore deletes sync records created before t.
func (s *SQLiteStore) PurgeSyncsBefore(ctx context.Context, t time.Time) (int64, error) {
	return s.purge(ctx, "purge lead syncs", `DELETE FROM lead_syncs WHERE created_at < ?`, t.UnixMilli())
}

// PurgeVisitorsBefore deletes visitors not seen since t.
func (s *SQLiteStore) PurgeVisitorsBefore(ctx context.Context, t time.Time) (int64, error) {
	return s.purge(ctx, "purge visitors", `DELETE FROM visitors WHERE last_seen_at < ?`, t.Unix())
}

func (s *SQLiteStore) purge(ctx context.Context, op, query string, threshold int64) (int64, error) {
	var deleted int64
	err := s.write(ctx, op, func() error {
		result, err := s.db.ExecContext(ctx, query, threshold)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// write runs fn under the write mutex and retries SQLite lock conflicts with
// exponential backoff: 50ms, 100ms, 200ms.
func (s *SQLiteStore) write(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		s.writeMu.Lock()
		err = fn()
		s.writeMu.Unlock()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite write conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
