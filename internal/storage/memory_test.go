package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/support-bot/internal/models"
)

func TestMemoryStateIsolation(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	state := models.NewState()
	state.Admins[1] = models.Admin{ID: 1, Tag: "sam", Level: models.LevelSupport, Active: true}
	require.NoError(t, store.SaveState(ctx, state))

	// Mutating the caller's copy after the save must not leak in.
	state.Admins[2] = models.Admin{ID: 2, Tag: "kim", Level: models.LevelSupport, Active: true}

	loaded, err := store.LoadState(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Admins, 1)

	// Nor must mutating a loaded copy.
	loaded.Admins[3] = models.Admin{ID: 3, Tag: "lee", Level: models.LevelSupport, Active: true}
	again, err := store.LoadState(ctx)
	require.NoError(t, err)
	assert.Len(t, again.Admins, 1)
}

func TestMemoryDistinctClientsExcludesAdmins(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	state := models.NewState()
	state.Admins[1] = models.Admin{ID: 1, Tag: "sam", Level: models.LevelSupport, Active: true}
	require.NoError(t, store.SaveState(ctx, state))

	now := time.Now()
	for i, sender := range []int64{500, 500, 501, 1} {
		require.NoError(t, store.AppendHistory(ctx, &models.DialogMessage{
			ID:        string(rune('a' + i)),
			SenderID:  sender,
			Timestamp: now,
		}))
	}

	clients, err := store.DistinctClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{500, 501}, clients)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalMessages)
	assert.Equal(t, int64(2), stats.TotalClients)
}

func TestMemoryPurgeHistoryBefore(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.AppendHistory(ctx, &models.DialogMessage{
		ID: "old", SenderID: 500, ReceiverID: 1, Timestamp: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.AppendHistory(ctx, &models.DialogMessage{
		ID: "new", SenderID: 500, ReceiverID: 1, Timestamp: now}))

	require.NoError(t, store.PurgeHistoryBefore(ctx, now.Add(-24*time.Hour)))

	messages, err := store.RecentMessages(ctx, 1, 500, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "new", messages[0].ID)
}
