package dialog

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/support-bot/internal/storage"
	"go.uber.org/zap"
)

const adminChannelID = int64(-1000)

type sentText struct {
	ChatID int64
	Text   string
}

type claimPrompt struct {
	ChannelID int64
	ClientID  int64
	Text      string
}

// fakeMessenger records everything the engine tries to send.
type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sentText
	prompts []claimPrompt
	fail    map[int64]error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{fail: make(map[int64]error)}
}

func (m *fakeMessenger) SendText(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[chatID]; ok {
		return err
	}
	m.sent = append(m.sent, sentText{ChatID: chatID, Text: text})
	return nil
}

func (m *fakeMessenger) PromptClaim(ctx context.Context, channelID, clientID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, claimPrompt{ChannelID: channelID, ClientID: clientID, Text: text})
	return nil
}

func (m *fakeMessenger) sentTo(chatID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var texts []string
	for _, s := range m.sent {
		if s.ChatID == chatID {
			texts = append(texts, s.Text)
		}
	}
	return texts
}

func newTestEngine(t *testing.T) (*Engine, *Table, *fakeMessenger, *storage.MemoryStorage) {
	t.Helper()
	table, store := newTestTable(t)
	messenger := newFakeMessenger()
	engine := NewEngine(table, store, messenger, nil, adminChannelID, zap.NewNop())
	return engine, table, messenger, store
}

func TestRouteTagSelection(t *testing.T) {
	engine, table, messenger, _ := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")

	engine.Route(ctx, InboundMessage{SenderID: 500, ChatID: 500, Name: "Alice", Text: "#sam"})

	adminID, ok := table.AssignedAdminFor(500)
	require.True(t, ok)
	assert.Equal(t, int64(1), adminID)

	clientMsgs := messenger.sentTo(500)
	require.Len(t, clientMsgs, 1)
	assert.Contains(t, clientMsgs[0], "#sam")
	adminMsgs := messenger.sentTo(1)
	require.Len(t, adminMsgs, 1)
	assert.Contains(t, adminMsgs[0], "Alice")
}

func TestRouteTagSelectionBusy(t *testing.T) {
	engine, table, messenger, _ := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")

	engine.Route(ctx, InboundMessage{SenderID: 500, ChatID: 500, Name: "Alice", Text: "#sam"})
	engine.Route(ctx, InboundMessage{SenderID: 501, ChatID: 501, Name: "Bob", Text: "#sam"})

	msgs := messenger.sentTo(501)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "busy")

	// The first client still holds the dialog.
	adminID, ok := table.AssignedAdminFor(500)
	require.True(t, ok)
	assert.Equal(t, int64(1), adminID)
	_, ok = table.AssignedAdminFor(501)
	assert.False(t, ok)
}

func TestRouteTagSelectionUnknownAndAway(t *testing.T) {
	engine, table, messenger, _ := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")
	require.NoError(t, table.SetActive(ctx, 1, false))

	engine.Route(ctx, InboundMessage{SenderID: 500, ChatID: 500, Name: "Alice", Text: "#nobody"})
	engine.Route(ctx, InboundMessage{SenderID: 500, ChatID: 500, Name: "Alice", Text: "#sam"})

	msgs := messenger.sentTo(500)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "not found")
	assert.Contains(t, msgs[1], "away")
	_, ok := table.AssignedAdminFor(500)
	assert.False(t, ok)
}

func TestRouteAdminReplyForwarded(t *testing.T) {
	engine, table, messenger, store := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")
	require.NoError(t, table.Claim(ctx, 1, 500))

	engine.Route(ctx, InboundMessage{SenderID: 1, ChatID: 1, Name: "Sam", Text: "hello there"})

	msgs := messenger.sentTo(500)
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "Reply from #sam:"))
	assert.Contains(t, msgs[0], "hello there")

	history, err := store.RecentMessages(ctx, 1, 500, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello there", history[0].Text)
}

func TestRouteAdminWithoutDialogDropped(t *testing.T) {
	engine, table, messenger, store := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")

	engine.Route(ctx, InboundMessage{SenderID: 1, ChatID: 1, Name: "Sam", Text: "anyone?"})

	messenger.mu.Lock()
	defer messenger.mu.Unlock()
	assert.Empty(t, messenger.sent)
	assert.Empty(t, messenger.prompts)
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalMessages)
}

func TestRouteClientMessageForwarded(t *testing.T) {
	engine, table, messenger, _ := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")
	require.NoError(t, table.Claim(ctx, 1, 500))

	engine.Route(ctx, InboundMessage{SenderID: 500, ChatID: 500, Name: "Alice", Text: "my order is late"})

	msgs := messenger.sentTo(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Alice")
	assert.Contains(t, msgs[0], "my order is late")
}

func TestRouteUnassignedClientPrompts(t *testing.T) {
	engine, table, messenger, _ := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")

	engine.Route(ctx, InboundMessage{SenderID: 500, ChatID: 500, Name: "Alice", Text: "hello?"})

	messenger.mu.Lock()
	prompts := append([]claimPrompt(nil), messenger.prompts...)
	messenger.mu.Unlock()
	require.Len(t, prompts, 1)
	assert.Equal(t, adminChannelID, prompts[0].ChannelID)
	assert.Equal(t, int64(500), prompts[0].ClientID)
	assert.Contains(t, prompts[0].Text, "Alice")

	acks := messenger.sentTo(500)
	require.Len(t, acks, 1)
	assert.Contains(t, acks[0], "received")
}

func TestClaimNotifiesClient(t *testing.T) {
	engine, table, messenger, _ := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")

	require.NoError(t, engine.Claim(ctx, 1, 500))
	msgs := messenger.sentTo(500)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "joined")

	err := engine.Claim(ctx, 1, 501)
	assert.ErrorIs(t, err, ErrAdminBusy)
	adminID, _ := table.AssignedAdminFor(500)
	assert.Equal(t, int64(1), adminID)
}

func TestCloseDialogNotifiesClient(t *testing.T) {
	engine, table, messenger, _ := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")
	require.NoError(t, table.Claim(ctx, 1, 500))

	clientID, err := engine.CloseDialog(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), clientID)
	msgs := messenger.sentTo(500)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "closed")

	_, err = engine.CloseDialog(ctx, 1)
	assert.ErrorIs(t, err, ErrNoActiveDialog)
}

func TestTransferNotifiesEveryPartyOnce(t *testing.T) {
	engine, table, messenger, _ := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")
	registerAdmin(t, table, 2, "kim")
	require.NoError(t, table.Claim(ctx, 1, 500))

	clientID, err := engine.Transfer(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(500), clientID)

	assert.Len(t, messenger.sentTo(500), 1)
	assert.Len(t, messenger.sentTo(2), 1)
	assert.Contains(t, messenger.sentTo(500)[0], "#kim")
	// The initiator's single confirmation is the edited transfer menu
	// at the transport layer, not an engine message.
	assert.Empty(t, messenger.sentTo(1))

	adminID, ok := table.AssignedAdminFor(500)
	require.True(t, ok)
	assert.Equal(t, int64(2), adminID)
}

func TestTransferTargetBusySurvivesUnchanged(t *testing.T) {
	engine, table, _, _ := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")
	registerAdmin(t, table, 2, "kim")
	require.NoError(t, table.Claim(ctx, 1, 500))
	require.NoError(t, table.Claim(ctx, 2, 501))

	_, err := engine.Transfer(ctx, 1, 2)
	assert.ErrorIs(t, err, ErrTargetBusy)

	adminID, _ := table.AssignedAdminFor(500)
	assert.Equal(t, int64(1), adminID)
	adminID, _ = table.AssignedAdminFor(501)
	assert.Equal(t, int64(2), adminID)
}

func TestNotificationFailureKeepsAssignment(t *testing.T) {
	engine, table, messenger, _ := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")
	messenger.fail[500] = assert.AnError

	require.NoError(t, engine.Claim(ctx, 1, 500))

	// The claim stands even though the client never heard about it.
	adminID, ok := table.AssignedAdminFor(500)
	require.True(t, ok)
	assert.Equal(t, int64(1), adminID)
}

func TestTransferOptionsExcludeInitiator(t *testing.T) {
	engine, table, _, _ := newTestEngine(t)
	ctx := context.Background()
	registerAdmin(t, table, 1, "sam")
	registerAdmin(t, table, 2, "kim")
	require.NoError(t, table.Claim(ctx, 2, 501))

	options := engine.TransferOptions(1)
	for _, o := range options {
		assert.NotEqual(t, int64(1), o.Admin.Admin.ID)
	}
	require.NotEmpty(t, options)
}

func TestTagMention(t *testing.T) {
	tag, ok := tagMention("#Sam")
	require.True(t, ok)
	assert.Equal(t, "sam", tag)

	_, ok = tagMention("hello")
	assert.False(t, ok)
	_, ok = tagMention("#")
	assert.False(t, ok)
	_, ok = tagMention("#   ")
	assert.False(t, ok)
}
