package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBackupManager(t *testing.T) (*BackupManager, string, string) {
	t.Helper()
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "bot.db")
	backupDir := filepath.Join(dir, "backups")
	m, err := NewBackupManager(dataPath, backupDir, 5, zap.NewNop())
	require.NoError(t, err)
	return m, dataPath, backupDir
}

func TestSnapshotWithoutLiveFile(t *testing.T) {
	m, _, backupDir := newTestBackupManager(t)

	dst, err := m.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, dst)

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSnapshotCopiesLiveFile(t *testing.T) {
	m, dataPath, _ := newTestBackupManager(t)
	require.NoError(t, os.WriteFile(dataPath, []byte("live data"), 0o644))

	dst, err := m.Snapshot()
	require.NoError(t, err)
	require.NotEmpty(t, dst)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "live data", string(data))
}

func TestSnapshotPrunesOldBackups(t *testing.T) {
	m, dataPath, backupDir := newTestBackupManager(t)
	require.NoError(t, os.WriteFile(dataPath, []byte("live data"), 0o644))

	// Seed more backups than the rotation keeps, named so they sort
	// older than anything Snapshot will create.
	old := []string{
		"support_bot_backup_20200101_000001.db",
		"support_bot_backup_20200101_000002.db",
		"support_bot_backup_20200101_000003.db",
		"support_bot_backup_20200101_000004.db",
		"support_bot_backup_20200101_000005.db",
		"support_bot_backup_20200101_000006.db",
	}
	for _, name := range old {
		require.NoError(t, os.WriteFile(filepath.Join(backupDir, name), []byte("old"), 0o644))
	}

	_, err := m.Snapshot()
	require.NoError(t, err)

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	// The oldest two were the ones dropped.
	_, err = os.Stat(filepath.Join(backupDir, old[0]))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(backupDir, old[1]))
	assert.True(t, os.IsNotExist(err))
}

func TestRestoreUsesNewestBackup(t *testing.T) {
	m, dataPath, backupDir := newTestBackupManager(t)

	require.NoError(t, os.WriteFile(
		filepath.Join(backupDir, "support_bot_backup_20200101_000001.db"), []byte("older"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(backupDir, "support_bot_backup_20200102_000001.db"), []byte("newer"), 0o644))

	require.NoError(t, m.Restore())

	data, err := os.ReadFile(dataPath)
	require.NoError(t, err)
	assert.Equal(t, "newer", string(data))
}

func TestRestoreWithoutBackups(t *testing.T) {
	m, _, _ := newTestBackupManager(t)
	assert.ErrorIs(t, m.Restore(), ErrNotFound)
}
