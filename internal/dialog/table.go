package dialog

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/support-bot/internal/models"
	"github.com/xaenox/support-bot/internal/storage"
	"go.uber.org/zap"
)

const passwordLength = 8

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Table is the in-memory source of truth for the admin registry and
// the admin->client assignment relation. A single mutex serializes all
// mutations because the invariants (unique tag, unique client) span
// multiple keys. Every mutation persists the full registry through the
// storage backend before returning; if persistence fails the in-memory
// change is reverted so memory and storage never diverge. No network
// I/O happens under the lock.
type Table struct {
	mu     sync.Mutex
	state  *models.State
	store  storage.Storage
	logger *zap.Logger
	now    func() time.Time
}

// AdminStatus is a directory entry: an admin plus whether they
// currently hold a dialog.
type AdminStatus struct {
	Admin models.Admin
	Busy  bool
}

// NewTable loads the registry from storage and seeds the configured
// owners as level-2 admins if they are not registered yet.
func NewTable(ctx context.Context, store storage.Storage, owners []int64, logger *zap.Logger) (*Table, error) {
	state, err := store.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading assignment state: %w", err)
	}

	t := &Table{
		state:  state,
		store:  store,
		logger: logger,
		now:    time.Now,
	}

	seeded := false
	for i, id := range owners {
		if id == 0 {
			continue
		}
		if a, ok := state.Admins[id]; ok {
			if a.Level < models.LevelSupervisor {
				a.Level = models.LevelSupervisor
				state.Admins[id] = a
				seeded = true
			}
			continue
		}
		state.Admins[id] = models.Admin{
			ID:     id,
			Tag:    seedTag(state, i),
			Level:  models.LevelSupervisor,
			Active: true,
		}
		seeded = true
	}
	if seeded {
		if err := store.SaveState(ctx, state.Clone()); err != nil {
			return nil, fmt.Errorf("seeding owner admins: %w", err)
		}
	}

	logger.Info("assignment table loaded",
		zap.Int("admins", len(state.Admins)),
		zap.Int("assignments", len(state.Assignments)))
	return t, nil
}

// seedTag picks the default tag for the i-th configured owner. Seeded
// tags obey the same case-insensitive uniqueness as registered ones,
// so a tag already held (say by a previous owner id) gets a suffix.
func seedTag(state *models.State, i int) string {
	base := "admin"
	if i > 0 {
		base = fmt.Sprintf("admin%d", i+1)
	}
	tag := base
	for n := 2; tagTaken(state, tag); n++ {
		tag = fmt.Sprintf("%s_%d", base, n)
	}
	return tag
}

func tagTaken(state *models.State, tag string) bool {
	for _, a := range state.Admins {
		if strings.EqualFold(a.Tag, tag) {
			return true
		}
	}
	return false
}

// persist writes the current registry through to storage. Called with
// the mutex held, after the in-memory mutation; revert undoes the
// mutation when the write fails.
func (t *Table) persist(ctx context.Context, revert func()) error {
	if err := t.store.SaveState(ctx, t.state.Clone()); err != nil {
		revert()
		return fmt.Errorf("persisting assignment state: %w", err)
	}
	return nil
}

// IssuePassword generates a one-time registration password. Level-2
// admins only.
func (t *Table) IssuePassword(ctx context.Context, actorID int64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if actor, ok := t.state.Admins[actorID]; !ok || actor.Level != models.LevelSupervisor {
		return "", ErrUnauthorized
	}

	token, err := generateToken(passwordLength)
	if err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}

	t.state.Passwords[token] = t.now()
	if err := t.persist(ctx, func() { delete(t.state.Passwords, token) }); err != nil {
		return "", err
	}
	return token, nil
}

// RegisterAdmin redeems a one-time password and registers the caller
// as a level-1 admin with the given tag. The tag uniqueness check is
// case-insensitive and happens under the same lock as the insert.
func (t *Table) RegisterAdmin(ctx context.Context, adminID int64, password, tag string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	issued, ok := t.state.Passwords[password]
	if !ok {
		return ErrInvalidPassword
	}
	if t.now().Sub(issued) > models.PasswordTTL {
		// Expired tokens are removed on detection, whether or not the
		// caller retries with a fresh one.
		delete(t.state.Passwords, password)
		if err := t.persist(ctx, func() { t.state.Passwords[password] = issued }); err != nil {
			return err
		}
		return ErrExpiredPassword
	}

	tag = strings.TrimSpace(strings.TrimPrefix(tag, "#"))
	if tag == "" {
		return ErrInvalidTag
	}
	for id, a := range t.state.Admins {
		if id != adminID && strings.EqualFold(a.Tag, tag) {
			return ErrTagTaken
		}
	}

	prev, existed := t.state.Admins[adminID]
	t.state.Admins[adminID] = models.Admin{
		ID:     adminID,
		Tag:    tag,
		Level:  models.LevelSupport,
		Active: true,
	}
	delete(t.state.Passwords, password)

	return t.persist(ctx, func() {
		t.state.Passwords[password] = issued
		if existed {
			t.state.Admins[adminID] = prev
		} else {
			delete(t.state.Admins, adminID)
		}
	})
}

// Promote raises target to level 2. The actor must already be level 2.
func (t *Table) Promote(ctx context.Context, actorID, targetID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if actor, ok := t.state.Admins[actorID]; !ok || actor.Level != models.LevelSupervisor {
		return ErrUnauthorized
	}
	target, ok := t.state.Admins[targetID]
	if !ok {
		return ErrNotAnAdmin
	}
	if target.Level == models.LevelSupervisor {
		return ErrAlreadyMaxLevel
	}

	prev := target
	target.Level = models.LevelSupervisor
	target.Active = true
	t.state.Admins[targetID] = target

	return t.persist(ctx, func() { t.state.Admins[targetID] = prev })
}

// Claim assigns an unclaimed client to the admin. The busy and
// already-claimed checks run under the same lock as the insert, so of
// two concurrent claims exactly one wins.
func (t *Table) Claim(ctx context.Context, adminID, clientID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.state.Admins[adminID]; !ok {
		return ErrNotAnAdmin
	}
	if _, busy := t.state.Assignments[adminID]; busy {
		return ErrAdminBusy
	}
	for _, a := range t.state.Assignments {
		if a.ClientID == clientID {
			return ErrClientAlreadyClaimed
		}
	}

	t.state.Assignments[adminID] = models.Assignment{
		AdminID:   adminID,
		ClientID:  clientID,
		StartedAt: t.now(),
	}
	return t.persist(ctx, func() { delete(t.state.Assignments, adminID) })
}

// Release closes the admin's dialog and returns the client that was
// assigned. Calling it again yields ErrNoActiveDialog.
func (t *Table) Release(ctx context.Context, adminID int64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.state.Assignments[adminID]
	if !ok {
		return 0, ErrNoActiveDialog
	}
	delete(t.state.Assignments, adminID)
	if err := t.persist(ctx, func() { t.state.Assignments[adminID] = a }); err != nil {
		return 0, err
	}
	return a.ClientID, nil
}

// Transfer moves the initiator's client to another admin. Both sides
// of the swap land in one persisted transaction: either the new entry
// fully replaces the old one or nothing changes.
func (t *Table) Transfer(ctx context.Context, fromAdminID, toAdminID int64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.state.Assignments[fromAdminID]
	if !ok {
		return 0, ErrNoActiveDialog
	}
	if _, ok := t.state.Admins[toAdminID]; !ok {
		return 0, ErrNotAnAdmin
	}
	if _, busy := t.state.Assignments[toAdminID]; busy {
		return 0, ErrTargetBusy
	}

	delete(t.state.Assignments, fromAdminID)
	t.state.Assignments[toAdminID] = models.Assignment{
		AdminID:   toAdminID,
		ClientID:  from.ClientID,
		StartedAt: t.now(),
	}

	err := t.persist(ctx, func() {
		delete(t.state.Assignments, toAdminID)
		t.state.Assignments[fromAdminID] = from
	})
	if err != nil {
		return 0, err
	}
	return from.ClientID, nil
}

// SetActive toggles the selectable-for-new-claims flag. An admin with
// a running dialog may go inactive; the dialog is unaffected.
func (t *Table) SetActive(ctx context.Context, adminID int64, active bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.state.Admins[adminID]
	if !ok {
		return ErrNotAnAdmin
	}
	prev := a
	a.Active = active
	t.state.Admins[adminID] = a

	return t.persist(ctx, func() { t.state.Admins[adminID] = prev })
}

// ToggleActive flips the flag and returns the new value.
func (t *Table) ToggleActive(ctx context.Context, adminID int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.state.Admins[adminID]
	if !ok {
		return false, ErrNotAnAdmin
	}
	prev := a
	a.Active = !a.Active
	t.state.Admins[adminID] = a

	if err := t.persist(ctx, func() { t.state.Admins[adminID] = prev }); err != nil {
		return false, err
	}
	return a.Active, nil
}

// RewriteClient replaces oldID with newID in the assignment relation
// after a chat migration.
func (t *Table) RewriteClient(ctx context.Context, oldID, newID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for adminID, a := range t.state.Assignments {
		if a.ClientID == oldID {
			prev := a
			a.ClientID = newID
			t.state.Assignments[adminID] = a
			return t.persist(ctx, func() { t.state.Assignments[adminID] = prev })
		}
	}
	return nil
}

// DropClient removes any assignment referencing the client, used when
// the peer has blocked the bot. Returns the admin that held it.
func (t *Table) DropClient(ctx context.Context, clientID int64) (int64, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for adminID, a := range t.state.Assignments {
		if a.ClientID == clientID {
			delete(t.state.Assignments, adminID)
			if err := t.persist(ctx, func() { t.state.Assignments[adminID] = a }); err != nil {
				return 0, false, err
			}
			return adminID, true, nil
		}
	}
	return 0, false, nil
}

// SweepExpiredPasswords drops every password past its 24 hour window.
func (t *Table) SweepExpiredPasswords(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := make(map[string]time.Time)
	now := t.now()
	for token, issued := range t.state.Passwords {
		if now.Sub(issued) > models.PasswordTTL {
			removed[token] = issued
			delete(t.state.Passwords, token)
		}
	}
	if len(removed) == 0 {
		return 0
	}
	if err := t.persist(ctx, func() {
		for token, issued := range removed {
			t.state.Passwords[token] = issued
		}
	}); err != nil {
		t.logger.Error("failed to persist password sweep", zap.Error(err))
		return 0
	}
	return len(removed)
}

// Admin returns the admin record for the id, if registered.
func (t *Table) Admin(id int64) (models.Admin, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.state.Admins[id]
	return a, ok
}

// FindByTag resolves a tag to its admin, case-insensitively.
func (t *Table) FindByTag(tag string) (models.Admin, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, a := range t.state.Admins {
		if strings.EqualFold(a.Tag, tag) {
			return a, true
		}
	}
	return models.Admin{}, false
}

// AssignedClient returns the client currently assigned to the admin.
func (t *Table) AssignedClient(adminID int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.state.Assignments[adminID]
	return a.ClientID, ok
}

// AssignedAdminFor scans the relation for the admin holding the
// client. Linear scan; admin cardinality is human-scale.
func (t *Table) AssignedAdminFor(clientID int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for adminID, a := range t.state.Assignments {
		if a.ClientID == clientID {
			return adminID, true
		}
	}
	return 0, false
}

// ListAdmins returns the directory sorted by tag, with busy flags
// computed from the current relation. The snapshot is best-effort and
// may be stale by the time it renders.
func (t *Table) ListAdmins() []AdminStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := make([]AdminStatus, 0, len(t.state.Admins))
	for id, a := range t.state.Admins {
		_, busy := t.state.Assignments[id]
		list = append(list, AdminStatus{Admin: a, Busy: busy})
	}
	sort.Slice(list, func(i, j int) bool {
		return strings.ToLower(list[i].Admin.Tag) < strings.ToLower(list[j].Admin.Tag)
	})
	return list
}

// Assignments returns a snapshot of the live relation.
func (t *Table) Assignments() []models.Assignment {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := make([]models.Assignment, 0, len(t.state.Assignments))
	for _, a := range t.state.Assignments {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].AdminID < list[j].AdminID })
	return list
}

func generateToken(length int) (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	token := make([]byte, length)
	for i := range token {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		token[i] = passwordAlphabet[n.Int64()]
	}
	return string(token), nil
}
