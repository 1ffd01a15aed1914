package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/support-bot/internal/events"
	"github.com/xaenox/support-bot/internal/models"
	"github.com/xaenox/support-bot/internal/storage"
	"go.uber.org/zap"
)

// Messenger is the outbound side of the chat transport. The engine
// only ever talks to chats through it; delivery failures are the
// implementation's problem (classification, migration rewriting) and
// never roll back a routing decision that already persisted.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error

	// PromptClaim posts an unclaimed-client notice with an inline
	// claim affordance to the shared admin channel.
	PromptClaim(ctx context.Context, channelID, clientID int64, text string) error
}

// InboundMessage is one plain text message entering the router.
type InboundMessage struct {
	SenderID int64
	ChatID   int64
	Name     string
	Text     string
}

// Engine routes inbound messages between clients and admins. All table
// mutations persist before any outbound notification goes out, so a
// crash between the two leaves recoverable state rather than data
// loss.
type Engine struct {
	table        *Table
	store        storage.Storage
	messenger    Messenger
	events       *events.Publisher
	adminChannel int64
	logger       *zap.Logger
	now          func() time.Time
}

func NewEngine(table *Table, store storage.Storage, messenger Messenger, publisher *events.Publisher, adminChannel int64, logger *zap.Logger) *Engine {
	return &Engine{
		table:        table,
		store:        store,
		messenger:    messenger,
		events:       publisher,
		adminChannel: adminChannel,
		logger:       logger,
		now:          time.Now,
	}
}

// Route decides who receives the message, in fixed priority order:
// admin-in-dialog forward, admin-without-dialog drop, tag selection,
// client-in-dialog forward, unclaimed broadcast.
func (e *Engine) Route(ctx context.Context, msg InboundMessage) {
	if admin, ok := e.table.Admin(msg.SenderID); ok {
		e.routeAdminMessage(ctx, admin, msg)
		return
	}

	if tag, ok := tagMention(msg.Text); ok {
		e.routeTagSelection(ctx, tag, msg)
		return
	}

	if adminID, ok := e.table.AssignedAdminFor(msg.ChatID); ok {
		text := fmt.Sprintf("Message from %s:\n\n%s", msg.Name, msg.Text)
		if err := e.messenger.SendText(ctx, adminID, text); err != nil {
			e.logger.Error("failed to forward client message",
				zap.Error(err),
				zap.Int64("admin_id", adminID))
			return
		}
		e.appendHistory(ctx, msg.ChatID, adminID, msg.Text)
		return
	}

	notice := fmt.Sprintf("New message from %s:\n\n%s", msg.Name, msg.Text)
	if err := e.messenger.PromptClaim(ctx, e.adminChannel, msg.ChatID, notice); err != nil {
		e.logger.Error("failed to post unclaimed notice", zap.Error(err))
	}
	ack := "Your message has been received! An admin will reply shortly.\n\n" +
		"You can also pick a specific admin with /admins."
	if err := e.messenger.SendText(ctx, msg.ChatID, ack); err != nil {
		e.logger.Error("failed to acknowledge client", zap.Error(err))
	}
}

func (e *Engine) routeAdminMessage(ctx context.Context, admin models.Admin, msg InboundMessage) {
	clientID, ok := e.table.AssignedClient(admin.ID)
	if !ok {
		// An admin outside a dialog has nowhere to route to; the
		// message is dropped on purpose, matching long-standing
		// behavior admins rely on.
		e.logger.Debug("dropping admin message outside dialog",
			zap.Int64("admin_id", admin.ID))
		return
	}

	text := fmt.Sprintf("Reply from #%s:\n%s", admin.Tag, msg.Text)
	if err := e.messenger.SendText(ctx, clientID, text); err != nil {
		e.logger.Error("failed to deliver admin reply",
			zap.Error(err),
			zap.Int64("client_id", clientID))
		e.notify(ctx, msg.ChatID, "Could not deliver your message to the client.")
		return
	}
	e.appendHistory(ctx, admin.ID, clientID, msg.Text)
}

func (e *Engine) routeTagSelection(ctx context.Context, tag string, msg InboundMessage) {
	admin, ok := e.table.FindByTag(tag)
	if !ok {
		e.notify(ctx, msg.ChatID, "Admin not found. Use /admins to see who is available.")
		return
	}
	if !admin.Active {
		e.notify(ctx, msg.ChatID, fmt.Sprintf(
			"Admin #%s is away right now. Pick another admin or try again later.", admin.Tag))
		return
	}
	if _, busy := e.table.AssignedClient(admin.ID); busy {
		e.notify(ctx, msg.ChatID, busyText(admin.Tag))
		return
	}

	err := e.table.Claim(ctx, admin.ID, msg.ChatID)
	switch {
	case err == nil:
	case errors.Is(err, ErrAdminBusy), errors.Is(err, ErrClientAlreadyClaimed):
		// Lost the race against a concurrent claim.
		e.notify(ctx, msg.ChatID, busyText(admin.Tag))
		return
	default:
		e.logger.Error("claim by tag failed",
			zap.Error(err),
			zap.Int64("admin_id", admin.ID),
			zap.Int64("client_id", msg.ChatID))
		e.notify(ctx, msg.ChatID, "Something went wrong, please try again later.")
		return
	}

	e.events.Publish(ctx, events.AssignmentEvent{
		Kind:     events.KindClaimed,
		AdminID:  admin.ID,
		ClientID: msg.ChatID,
		At:       e.now(),
	})
	e.notify(ctx, msg.ChatID, fmt.Sprintf(
		"You picked admin #%s. Go ahead and start the conversation!", admin.Tag))
	e.notify(ctx, admin.ID, fmt.Sprintf("Client %s picked you as their admin!", msg.Name))
	e.logger.Info("client selected admin by tag",
		zap.Int64("admin_id", admin.ID),
		zap.Int64("client_id", msg.ChatID),
		zap.String("tag", admin.Tag))
}

// Claim assigns an unclaimed client to the admin pressing the claim
// button. The client is notified after the assignment persisted.
func (e *Engine) Claim(ctx context.Context, adminID, clientID int64) error {
	if err := e.table.Claim(ctx, adminID, clientID); err != nil {
		return err
	}

	e.events.Publish(ctx, events.AssignmentEvent{
		Kind:     events.KindClaimed,
		AdminID:  adminID,
		ClientID: clientID,
		At:       e.now(),
	})
	e.notify(ctx, clientID, "An admin has joined the conversation! Please go on.")
	return nil
}

// CloseDialog releases the admin's dialog and tells the client.
func (e *Engine) CloseDialog(ctx context.Context, adminID int64) (int64, error) {
	clientID, err := e.table.Release(ctx, adminID)
	if err != nil {
		return 0, err
	}

	e.events.Publish(ctx, events.AssignmentEvent{
		Kind:     events.KindReleased,
		AdminID:  adminID,
		ClientID: clientID,
		At:       e.now(),
	})
	e.notify(ctx, clientID, "The dialog has been closed. Thank you for reaching out!")
	return clientID, nil
}

// Transfer hands the initiator's client over to the target admin. The
// client and the target are each notified exactly once; the initiator
// gets their confirmation from the UI surface that invoked the
// transfer. The target's availability is re-validated inside the
// table, because the menu the initiator saw may be stale.
func (e *Engine) Transfer(ctx context.Context, fromAdminID, toAdminID int64) (int64, error) {
	clientID, err := e.table.Transfer(ctx, fromAdminID, toAdminID)
	if err != nil {
		return 0, err
	}

	from, _ := e.table.Admin(fromAdminID)
	to, _ := e.table.Admin(toAdminID)

	e.events.Publish(ctx, events.AssignmentEvent{
		Kind:        events.KindTransferred,
		AdminID:     toAdminID,
		FromAdminID: fromAdminID,
		ClientID:    clientID,
		At:          e.now(),
	})
	e.notify(ctx, clientID, fmt.Sprintf("Your dialog has been handed over to admin #%s.", to.Tag))
	e.notify(ctx, toAdminID, fmt.Sprintf("Client %d was handed over to you by admin #%s.", clientID, from.Tag))
	e.logger.Info("dialog transferred",
		zap.Int64("from_admin_id", fromAdminID),
		zap.Int64("to_admin_id", toAdminID),
		zap.Int64("client_id", clientID))
	return clientID, nil
}

// notify sends best-effort: a failed notification is logged and never
// retried, the durable state change stands regardless.
func (e *Engine) notify(ctx context.Context, chatID int64, text string) {
	if err := e.messenger.SendText(ctx, chatID, text); err != nil {
		e.logger.Error("failed to send notification",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (e *Engine) appendHistory(ctx context.Context, senderID, receiverID int64, text string) {
	msg := &models.DialogMessage{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Timestamp:  e.now(),
	}
	if err := e.store.AppendHistory(ctx, msg); err != nil {
		e.logger.Error("failed to append dialog history",
			zap.Error(err),
			zap.Int64("sender_id", senderID),
			zap.Int64("receiver_id", receiverID))
	}
}

func busyText(tag string) string {
	return fmt.Sprintf("Admin #%s is busy with another dialog.\n"+
		"You can:\n"+
		"1. Wait until they are free\n"+
		"2. Pick another admin with /admins\n"+
		"3. Just send your message and the first free admin will reply", tag)
}

// tagMention extracts the requested tag from a `#tagname` message.
func tagMention(text string) (string, bool) {
	if !strings.HasPrefix(text, "#") {
		return "", false
	}
	tag := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(text, "#")))
	if tag == "" {
		return "", false
	}
	return tag, true
}
