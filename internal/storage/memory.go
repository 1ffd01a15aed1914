package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/support-bot/internal/models"
)

// MemoryStorage keeps everything in process memory. Used by tests and
// by the `database.backend: memory` setting for local runs.
type MemoryStorage struct {
	mu      sync.RWMutex
	state   *models.State
	history []models.DialogMessage
	admins  map[int64]struct{}
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		state:  models.NewState(),
		admins: make(map[int64]struct{}),
	}
}

func (s *MemoryStorage) LoadState(ctx context.Context) (*models.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), nil
}

func (s *MemoryStorage) SaveState(ctx context.Context, state *models.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state.Clone()
	s.admins = make(map[int64]struct{}, len(state.Admins))
	for id := range state.Admins {
		s.admins[id] = struct{}{}
	}
	return nil
}

func (s *MemoryStorage) AppendHistory(ctx context.Context, msg *models.DialogMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, *msg)
	return nil
}

func (s *MemoryStorage) RecentMessages(ctx context.Context, a, b int64, limit int) ([]models.DialogMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var messages []models.DialogMessage
	for i := len(s.history) - 1; i >= 0 && len(messages) < limit; i-- {
		m := s.history[i]
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

func (s *MemoryStorage) PurgeHistoryBefore(ctx context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.history[:0]
	for _, m := range s.history {
		if !m.Timestamp.Before(cutoff) {
			kept = append(kept, m)
		}
	}
	s.history = kept
	return nil
}

func (s *MemoryStorage) RewriteChatID(ctx context.Context, oldID, newID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.history {
		if s.history[i].SenderID == oldID {
			s.history[i].SenderID = newID
		}
		if s.history[i].ReceiverID == oldID {
			s.history[i].ReceiverID = newID
		}
	}
	for adminID, a := range s.state.Assignments {
		if a.ClientID == oldID {
			a.ClientID = newID
			s.state.Assignments[adminID] = a
		}
	}
	return nil
}

func (s *MemoryStorage) DistinctClients(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int64]struct{})
	for _, m := range s.history {
		if _, isAdmin := s.admins[m.SenderID]; !isAdmin {
			seen[m.SenderID] = struct{}{}
		}
	}
	clients := make([]int64, 0, len(seen))
	for id := range seen {
		clients = append(clients, id)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	return clients, nil
}

func (s *MemoryStorage) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make(map[int64]struct{})
	for _, m := range s.history {
		if _, isAdmin := s.admins[m.SenderID]; !isAdmin {
			clients[m.SenderID] = struct{}{}
		}
	}
	return Stats{
		TotalMessages: int64(len(s.history)),
		TotalClients:  int64(len(clients)),
	}, nil
}

func (s *MemoryStorage) Compact(ctx context.Context) error {
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
