package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/support-bot/internal/models"
	"go.uber.org/zap"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, _ := newTestSQLiteStoreWithBackups(t)
	return store
}

func newTestSQLiteStoreWithBackups(t *testing.T) (*SQLiteStore, *BackupManager) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.db")
	backups, err := NewBackupManager(path, filepath.Join(dir, "backups"), 5, zap.NewNop())
	require.NoError(t, err)
	store, err := NewSQLiteStore(path, backups, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, backups
}

// checkpoint flushes the WAL into the main database file so a plain
// file copy sees every committed write.
func checkpoint(t *testing.T, store *SQLiteStore) {
	t.Helper()
	_, err := store.handle().Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	require.NoError(t, err)
}

func TestSQLiteStateRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	issued := time.Now().UTC().Truncate(time.Second)
	state := models.NewState()
	state.Admins[1] = models.Admin{ID: 1, Tag: "sam", Level: models.LevelSupport, Active: true}
	state.Admins[2] = models.Admin{ID: 2, Tag: "kim", Level: models.LevelSupervisor, Active: false}
	state.Assignments[1] = models.Assignment{AdminID: 1, ClientID: 500, StartedAt: issued}
	state.Passwords["abcd1234"] = issued

	require.NoError(t, store.SaveState(ctx, state))

	loaded, err := store.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Admins, loaded.Admins)

	require.Contains(t, loaded.Assignments, int64(1))
	got := loaded.Assignments[1]
	assert.Equal(t, int64(500), got.ClientID)
	assert.WithinDuration(t, issued, got.StartedAt, time.Second)

	require.Contains(t, loaded.Passwords, "abcd1234")
	assert.WithinDuration(t, issued, loaded.Passwords["abcd1234"], time.Second)
}

func TestSQLiteSaveStateReplaces(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	first := models.NewState()
	first.Admins[1] = models.Admin{ID: 1, Tag: "sam", Level: models.LevelSupport, Active: true}
	first.Admins[2] = models.Admin{ID: 2, Tag: "kim", Level: models.LevelSupport, Active: true}
	first.Assignments[1] = models.Assignment{AdminID: 1, ClientID: 500, StartedAt: time.Now()}
	require.NoError(t, store.SaveState(ctx, first))

	second := models.NewState()
	second.Admins[2] = models.Admin{ID: 2, Tag: "kim", Level: models.LevelSupervisor, Active: true}
	require.NoError(t, store.SaveState(ctx, second))

	loaded, err := store.LoadState(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Admins, 1)
	assert.Equal(t, models.LevelSupervisor, loaded.Admins[2].Level)
	assert.Empty(t, loaded.Assignments)
	assert.Empty(t, loaded.Passwords)
}

func appendTestMessage(t *testing.T, store *SQLiteStore, i int, sender, receiver int64, ts time.Time) {
	t.Helper()
	require.NoError(t, store.AppendHistory(context.Background(), &models.DialogMessage{
		ID:         fmt.Sprintf("msg-%d", i),
		SenderID:   sender,
		ReceiverID: receiver,
		Text:       fmt.Sprintf("message %d", i),
		Timestamp:  ts,
	}))
}

func TestSQLiteRecentMessages(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	appendTestMessage(t, store, 1, 500, 1, base)
	appendTestMessage(t, store, 2, 1, 500, base.Add(time.Minute))
	appendTestMessage(t, store, 3, 500, 1, base.Add(2*time.Minute))
	// A different pair never shows up.
	appendTestMessage(t, store, 4, 501, 2, base.Add(3*time.Minute))

	messages, err := store.RecentMessages(ctx, 1, 500, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "message 3", messages[0].Text)
	assert.Equal(t, "message 2", messages[1].Text)
}

func TestSQLitePurgeHistoryBefore(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	appendTestMessage(t, store, 1, 500, 1, base.Add(-48*time.Hour))
	appendTestMessage(t, store, 2, 500, 1, base)

	require.NoError(t, store.PurgeHistoryBefore(ctx, base.Add(-24*time.Hour)))

	messages, err := store.RecentMessages(ctx, 1, 500, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "message 2", messages[0].Text)
}

func TestSQLiteRewriteChatID(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	state := models.NewState()
	state.Admins[1] = models.Admin{ID: 1, Tag: "sam", Level: models.LevelSupport, Active: true}
	state.Assignments[1] = models.Assignment{AdminID: 1, ClientID: 500, StartedAt: time.Now()}
	require.NoError(t, store.SaveState(ctx, state))
	appendTestMessage(t, store, 1, 500, 1, time.Now().UTC())

	require.NoError(t, store.RewriteChatID(ctx, 500, 600))

	loaded, err := store.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(600), loaded.Assignments[1].ClientID)

	messages, err := store.RecentMessages(ctx, 1, 600, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, int64(600), messages[0].SenderID)
}

func TestSQLiteDistinctClientsAndStats(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	state := models.NewState()
	state.Admins[1] = models.Admin{ID: 1, Tag: "sam", Level: models.LevelSupport, Active: true}
	require.NoError(t, store.SaveState(ctx, state))

	base := time.Now().UTC().Truncate(time.Second)
	appendTestMessage(t, store, 1, 500, 1, base)
	appendTestMessage(t, store, 2, 500, 1, base.Add(time.Minute))
	appendTestMessage(t, store, 3, 501, 1, base.Add(2*time.Minute))
	// Admin replies do not count as clients.
	appendTestMessage(t, store, 4, 1, 500, base.Add(3*time.Minute))

	clients, err := store.DistinctClients(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{500, 501}, clients)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalMessages)
	assert.Equal(t, int64(2), stats.TotalClients)
}

func TestSQLiteReconnectWithRestore(t *testing.T) {
	store, backups := newTestSQLiteStoreWithBackups(t)
	ctx := context.Background()

	good := models.NewState()
	good.Admins[1] = models.Admin{ID: 1, Tag: "sam", Level: models.LevelSupport, Active: true}
	require.NoError(t, store.SaveState(ctx, good))
	checkpoint(t, store)
	_, err := backups.Snapshot()
	require.NoError(t, err)

	bad := models.NewState()
	bad.Admins[2] = models.Admin{ID: 2, Tag: "kim", Level: models.LevelSupport, Active: true}
	require.NoError(t, store.SaveState(ctx, bad))
	checkpoint(t, store)

	// The forced-restore path rolls the file back to the snapshot.
	store.reconnect(true)

	loaded, err := store.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, good.Admins, loaded.Admins)

	// The store keeps serving after the reconnect.
	require.NoError(t, store.SaveState(ctx, bad))
}

func TestSQLiteCompact(t *testing.T) {
	store := newTestSQLiteStore(t)
	assert.NoError(t, store.Compact(context.Background()))
}
