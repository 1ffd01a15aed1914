package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/xaenox/support-bot/internal/models"
	"go.uber.org/zap"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS admins (
		id BIGINT PRIMARY KEY,
		tag TEXT NOT NULL,
		level INTEGER NOT NULL CHECK (level IN (1, 2)),
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_admins_tag ON admins (LOWER(tag));

	CREATE TABLE IF NOT EXISTS assignments (
		admin_id BIGINT PRIMARY KEY,
		client_id BIGINT NOT NULL UNIQUE,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS passwords (
		token TEXT PRIMARY KEY,
		issued_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dialog_history (
		id TEXT PRIMARY KEY,
		sender_id BIGINT NOT NULL,
		receiver_id BIGINT NOT NULL,
		text TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_sender ON dialog_history (sender_id);
	CREATE INDEX IF NOT EXISTS idx_history_receiver ON dialog_history (receiver_id);
	CREATE INDEX IF NOT EXISTS idx_history_timestamp ON dialog_history (timestamp);
`

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PostgresStorage is the Storage backend for deployments with a
// managed database. File-level backups do not apply here; snapshots
// are the database's own concern.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("postgres store initialized",
		zap.String("host", config.Host),
		zap.String("dbname", config.DBName))
	return &PostgresStorage{db: db, logger: logger}, nil
}

func (s *PostgresStorage) LoadState(ctx context.Context) (*models.State, error) {
	state := models.NewState()

	rows, err := s.db.QueryContext(ctx, "SELECT id, tag, level, active FROM admins")
	if err != nil {
		return nil, fmt.Errorf("error querying admins: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a models.Admin
		if err := rows.Scan(&a.ID, &a.Tag, &a.Level, &a.Active); err != nil {
			return nil, fmt.Errorf("error scanning admin: %w", err)
		}
		state.Admins[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, "SELECT admin_id, client_id, started_at FROM assignments")
	if err != nil {
		return nil, fmt.Errorf("error querying assignments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a models.Assignment
		if err := rows.Scan(&a.AdminID, &a.ClientID, &a.StartedAt); err != nil {
			return nil, fmt.Errorf("error scanning assignment: %w", err)
		}
		state.Assignments[a.AdminID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, "SELECT token, issued_at FROM passwords")
	if err != nil {
		return nil, fmt.Errorf("error querying passwords: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var token string
		var issued time.Time
		if err := rows.Scan(&token, &issued); err != nil {
			return nil, fmt.Errorf("error scanning password: %w", err)
		}
		state.Passwords[token] = issued
	}
	return state, rows.Err()
}

func (s *PostgresStorage) SaveState(ctx context.Context, state *models.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"admins", "assignments", "passwords"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("error clearing %s: %w", table, err)
		}
	}

	for _, a := range state.Admins {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO admins (id, tag, level, active) VALUES ($1, $2, $3, $4)",
			a.ID, a.Tag, a.Level, a.Active); err != nil {
			return fmt.Errorf("error inserting admin: %w", err)
		}
	}

	for _, a := range state.Assignments {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO assignments (admin_id, client_id, started_at) VALUES ($1, $2, $3)",
			a.AdminID, a.ClientID, a.StartedAt); err != nil {
			return fmt.Errorf("error inserting assignment: %w", err)
		}
	}

	for token, issued := range state.Passwords {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO passwords (token, issued_at) VALUES ($1, $2)",
			token, issued); err != nil {
			return fmt.Errorf("error inserting password: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing state: %w", err)
	}
	return nil
}

func (s *PostgresStorage) AppendHistory(ctx context.Context, msg *models.DialogMessage) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO dialog_history (id, sender_id, receiver_id, text, timestamp) VALUES ($1, $2, $3, $4, $5)",
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Text, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("error appending history: %w", err)
	}
	return nil
}

func (s *PostgresStorage) RecentMessages(ctx context.Context, a, b int64, limit int) ([]models.DialogMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, text, timestamp
		FROM dialog_history
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY timestamp DESC
		LIMIT $3`,
		a, b, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying recent messages: %w", err)
	}
	defer rows.Close()

	var messages []models.DialogMessage
	for rows.Next() {
		var m models.DialogMessage
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *PostgresStorage) PurgeHistoryBefore(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM dialog_history WHERE timestamp < $1", cutoff)
	if err != nil {
		return fmt.Errorf("error purging history: %w", err)
	}
	return nil
}

func (s *PostgresStorage) RewriteChatID(ctx context.Context, oldID, newID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error rewriting chat id: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		"UPDATE dialog_history SET sender_id = $1 WHERE sender_id = $2",
		"UPDATE dialog_history SET receiver_id = $1 WHERE receiver_id = $2",
		"UPDATE assignments SET client_id = $1 WHERE client_id = $2",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, newID, oldID); err != nil {
			return fmt.Errorf("error rewriting chat id: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStorage) DistinctClients(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT sender_id FROM dialog_history
		WHERE sender_id NOT IN (SELECT id FROM admins)`)
	if err != nil {
		return nil, fmt.Errorf("error querying clients: %w", err)
	}
	defer rows.Close()

	var clients []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning client id: %w", err)
		}
		clients = append(clients, id)
	}
	return clients, rows.Err()
}

func (s *PostgresStorage) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dialog_history").Scan(&stats.TotalMessages); err != nil {
		return Stats{}, fmt.Errorf("error counting messages: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT sender_id) FROM dialog_history
		WHERE sender_id NOT IN (SELECT id FROM admins)`).Scan(&stats.TotalClients); err != nil {
		return Stats{}, fmt.Errorf("error counting clients: %w", err)
	}
	return stats, nil
}

func (s *PostgresStorage) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM dialog_history"); err != nil {
		return fmt.Errorf("error compacting history: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
