package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/support-bot/internal/models"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS admins (
		id INTEGER PRIMARY KEY,
		tag TEXT NOT NULL UNIQUE COLLATE NOCASE,
		level INTEGER NOT NULL CHECK (level IN (1, 2)),
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS assignments (
		admin_id INTEGER PRIMARY KEY,
		client_id INTEGER NOT NULL UNIQUE,
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS passwords (
		token TEXT PRIMARY KEY,
		issued_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dialog_history (
		id TEXT PRIMARY KEY,
		sender_id INTEGER NOT NULL,
		receiver_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_sender ON dialog_history(sender_id);
	CREATE INDEX IF NOT EXISTS idx_history_receiver ON dialog_history(receiver_id);
	CREATE INDEX IF NOT EXISTS idx_history_timestamp ON dialog_history(timestamp);
`

// SQLiteStore is the default Storage backend: a single database file
// with WAL journaling, snapshotted by a BackupManager. On a fault it
// discards its handle, reconnects once, and restores the file from the
// newest backup when the fault looks like corruption.
type SQLiteStore struct {
	mu      sync.Mutex
	db      *sql.DB
	path    string
	backups *BackupManager
	logger  *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path. An
// existing file is snapshotted before it is opened, so a bad deploy
// always leaves a pre-open copy behind.
func NewSQLiteStore(path string, backups *BackupManager, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	if _, err := backups.Snapshot(); err != nil {
		logger.Error("failed to create pre-open backup", zap.Error(err))
	}

	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		db:      db,
		path:    path,
		backups: backups,
		logger:  logger,
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite store initialized", zap.String("path", path))
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return db, nil
}

func isCorruptionErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "not a database") ||
		strings.Contains(msg, "corrupt")
}

// recover discards the current handle and reconnects once, restoring
// the database file first when the fault is classified as corruption.
// The original fault still surfaces to the caller; recovery only
// repairs the store for the next call.
func (s *SQLiteStore) recover(cause error) {
	s.reconnect(isCorruptionErr(cause))
}

// reconnect closes the faulted handle and reopens once. With restore
// set, the database file is first replaced by the newest backup.
func (s *SQLiteStore) reconnect(restore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close faulted handle", zap.Error(err))
	}

	if restore {
		if err := s.backups.Restore(); err != nil {
			s.logger.Error("failed to restore from backup", zap.Error(err))
		}
	}

	db, err := openSQLite(s.path)
	if err != nil {
		s.logger.Error("failed to reconnect to database", zap.Error(err))
		return
	}
	s.db = db
}

func (s *SQLiteStore) handle() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

func (s *SQLiteStore) LoadState(ctx context.Context) (*models.State, error) {
	state, err := s.readState(ctx)
	if err != nil {
		s.recover(err)
		return nil, fmt.Errorf("loading state: %w", err)
	}
	return state, nil
}

func (s *SQLiteStore) readState(ctx context.Context) (*models.State, error) {
	db := s.handle()
	state := models.NewState()

	rows, err := db.QueryContext(ctx, "SELECT id, tag, level, active FROM admins")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a models.Admin
		if err := rows.Scan(&a.ID, &a.Tag, &a.Level, &a.Active); err != nil {
			return nil, err
		}
		state.Admins[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, "SELECT admin_id, client_id, started_at FROM assignments")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a models.Assignment
		if err := rows.Scan(&a.AdminID, &a.ClientID, &a.StartedAt); err != nil {
			return nil, err
		}
		state.Assignments[a.AdminID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, "SELECT token, issued_at FROM passwords")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var token string
		var issued time.Time
		if err := rows.Scan(&token, &issued); err != nil {
			return nil, err
		}
		state.Passwords[token] = issued
	}
	return state, rows.Err()
}

// SaveState replaces the whole registry in one transaction. On failure
// the fallback sequence is bounded and explicit: take a defensive
// backup, retry once without the derived timestamp column, and if that
// also fails restore from backup and surface the original error.
func (s *SQLiteStore) SaveState(ctx context.Context, state *models.State) error {
	err := s.writeState(ctx, state, true)
	if err == nil {
		return nil
	}
	s.logger.Error("failed to save state", zap.Error(err))

	if _, berr := s.backups.Snapshot(); berr != nil {
		s.logger.Error("failed to create defensive backup", zap.Error(berr))
	}

	if rerr := s.writeState(ctx, state, false); rerr == nil {
		s.logger.Info("recovered state save with simplified write")
		return nil
	} else {
		s.logger.Error("simplified state save failed", zap.Error(rerr))
	}

	// A double save failure always restores from the newest backup,
	// whatever the fault class, before the error surfaces.
	s.reconnect(true)
	return fmt.Errorf("saving state: %w", err)
}

func (s *SQLiteStore) writeState(ctx context.Context, state *models.State, withTimestamps bool) error {
	db := s.handle()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"admins", "assignments", "passwords"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}

	for _, a := range state.Admins {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO admins (id, tag, level, active) VALUES (?, ?, ?, ?)",
			a.ID, a.Tag, a.Level, a.Active); err != nil {
			return err
		}
	}

	for _, a := range state.Assignments {
		if withTimestamps {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO assignments (admin_id, client_id, started_at) VALUES (?, ?, ?)",
				a.AdminID, a.ClientID, a.StartedAt)
		} else {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO assignments (admin_id, client_id) VALUES (?, ?)",
				a.AdminID, a.ClientID)
		}
		if err != nil {
			return err
		}
	}

	for token, issued := range state.Passwords {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO passwords (token, issued_at) VALUES (?, ?)",
			token, issued); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, msg *models.DialogMessage) error {
	_, err := s.handle().ExecContext(ctx,
		"INSERT INTO dialog_history (id, sender_id, receiver_id, text, timestamp) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Text, msg.Timestamp)
	if err != nil {
		s.recover(err)
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, a, b int64, limit int) ([]models.DialogMessage, error) {
	rows, err := s.handle().QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, text, timestamp
		FROM dialog_history
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY timestamp DESC
		LIMIT ?`,
		a, b, b, a, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	var messages []models.DialogMessage
	for rows.Next() {
		var m models.DialogMessage
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) PurgeHistoryBefore(ctx context.Context, cutoff time.Time) error {
	_, err := s.handle().ExecContext(ctx,
		"DELETE FROM dialog_history WHERE timestamp < ?", cutoff)
	if err != nil {
		return fmt.Errorf("purging history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RewriteChatID(ctx context.Context, oldID, newID int64) error {
	db := s.handle()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rewriting chat id: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		"UPDATE dialog_history SET sender_id = ? WHERE sender_id = ?",
		"UPDATE dialog_history SET receiver_id = ? WHERE receiver_id = ?",
		"UPDATE assignments SET client_id = ? WHERE client_id = ?",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, newID, oldID); err != nil {
			return fmt.Errorf("rewriting chat id: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DistinctClients(ctx context.Context) ([]int64, error) {
	rows, err := s.handle().QueryContext(ctx, `
		SELECT DISTINCT sender_id FROM dialog_history
		WHERE sender_id NOT IN (SELECT id FROM admins)`)
	if err != nil {
		return nil, fmt.Errorf("querying clients: %w", err)
	}
	defer rows.Close()

	var clients []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning client id: %w", err)
		}
		clients = append(clients, id)
	}
	return clients, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	db := s.handle()
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dialog_history").Scan(&stats.TotalMessages); err != nil {
		return Stats{}, fmt.Errorf("counting messages: %w", err)
	}
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT sender_id) FROM dialog_history
		WHERE sender_id NOT IN (SELECT id FROM admins)`).Scan(&stats.TotalClients); err != nil {
		return Stats{}, fmt.Errorf("counting clients: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) Compact(ctx context.Context) error {
	if _, err := s.handle().ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("compacting database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.handle().Close()
}
