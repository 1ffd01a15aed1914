package models

import "time"

// PasswordTTL is how long a one-time registration password stays valid.
const PasswordTTL = 24 * time.Hour

// Admin levels. Level-2 admins can issue passwords, promote other
// admins, broadcast and monitor dialogs.
const (
	LevelSupport    = 1
	LevelSupervisor = 2
)

// Admin represents a registered support agent
type Admin struct {
	ID     int64  `json:"id"`
	Tag    string `json:"tag"`
	Level  int    `json:"level"`
	Active bool   `json:"active"`
}

// Assignment binds one admin to one client for the duration of a dialog
type Assignment struct {
	AdminID   int64     `json:"admin_id"`
	ClientID  int64     `json:"client_id"`
	StartedAt time.Time `json:"started_at"`
}

// DialogMessage is a single row of the append-only dialog history
type DialogMessage struct {
	ID         string    `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// State is the full admin registry: admins, live assignments and
// outstanding one-time passwords. It is persisted as a whole on every
// mutation, so memory and storage never hold different subsets.
type State struct {
	Admins      map[int64]Admin      `json:"admins"`
	Assignments map[int64]Assignment `json:"assignments"` // keyed by admin id
	Passwords   map[string]time.Time `json:"passwords"`   // token -> issued at
}

func NewState() *State {
	return &State{
		Admins:      make(map[int64]Admin),
		Assignments: make(map[int64]Assignment),
		Passwords:   make(map[string]time.Time),
	}
}

// Clone returns a deep copy safe to hand to a storage backend while
// the original keeps changing under the table lock.
func (s *State) Clone() *State {
	c := NewState()
	for id, a := range s.Admins {
		c.Admins[id] = a
	}
	for id, a := range s.Assignments {
		c.Assignments[id] = a
	}
	for token, issued := range s.Passwords {
		c.Passwords[token] = issued
	}
	return c
}
