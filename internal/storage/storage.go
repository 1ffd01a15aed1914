package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/support-bot/internal/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Stats summarizes the dialog history for the /stats surface.
type Stats struct {
	TotalMessages int64
	TotalClients  int64
}

// Storage is the durable mirror of the assignment table plus the
// append-only dialog history. SaveState replaces the whole registry in
// one transaction; there is no incremental diffing.
type Storage interface {
	LoadState(ctx context.Context) (*models.State, error)
	SaveState(ctx context.Context, state *models.State) error

	AppendHistory(ctx context.Context, msg *models.DialogMessage) error
	RecentMessages(ctx context.Context, a, b int64, limit int) ([]models.DialogMessage, error)
	PurgeHistoryBefore(ctx context.Context, cutoff time.Time) error

	// RewriteChatID rewrites every stored reference to oldID (history
	// rows and assignment rows) after a chat migration.
	RewriteChatID(ctx context.Context, oldID, newID int64) error

	// DistinctClients lists every non-admin chat that ever wrote to us,
	// used for broadcast fan-out.
	DistinctClients(ctx context.Context) ([]int64, error)

	Stats(ctx context.Context) (Stats, error)
	Compact(ctx context.Context) error
	Close() error
}
