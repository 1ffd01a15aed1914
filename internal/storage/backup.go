package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BackupManager keeps rotating file snapshots of the SQLite database
// and can restore the newest one over a corrupted live file.
type BackupManager struct {
	dataPath string
	dir      string
	keep     int
	logger   *zap.Logger
}

func NewBackupManager(dataPath, dir string, keep int, logger *zap.Logger) (*BackupManager, error) {
	if keep <= 0 {
		keep = 5
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	return &BackupManager{
		dataPath: dataPath,
		dir:      dir,
		keep:     keep,
		logger:   logger,
	}, nil
}

// Snapshot copies the live database file to a timestamped backup and
// prunes everything but the newest keep snapshots. Missing live file
// is not an error; there is simply nothing to snapshot yet.
func (m *BackupManager) Snapshot() (string, error) {
	if _, err := os.Stat(m.dataPath); os.IsNotExist(err) {
		return "", nil
	}
	name := fmt.Sprintf("support_bot_backup_%s.db", time.Now().Format("20060102_150405"))
	dst := filepath.Join(m.dir, name)
	if err := copyFile(m.dataPath, dst); err != nil {
		return "", fmt.Errorf("creating backup: %w", err)
	}
	m.prune()
	m.logger.Info("created database backup", zap.String("backup", name))
	return dst, nil
}

// Restore copies the newest backup over the live database file.
func (m *BackupManager) Restore() error {
	backups, err := m.list()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return fmt.Errorf("restore: %w", ErrNotFound)
	}
	latest := backups[len(backups)-1]
	if err := copyFile(filepath.Join(m.dir, latest), m.dataPath); err != nil {
		return fmt.Errorf("restoring from backup: %w", err)
	}
	m.logger.Info("restored database from backup", zap.String("backup", latest))
	return nil
}

// list returns backup file names in ascending timestamp order. The
// names embed the timestamp, so lexical order is chronological order.
func (m *BackupManager) list() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *BackupManager) prune() {
	names, err := m.list()
	if err != nil {
		m.logger.Error("failed to list backups", zap.Error(err))
		return
	}
	for len(names) > m.keep {
		oldest := names[0]
		names = names[1:]
		if err := os.Remove(filepath.Join(m.dir, oldest)); err != nil {
			m.logger.Error("failed to remove old backup",
				zap.Error(err),
				zap.String("backup", oldest))
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
