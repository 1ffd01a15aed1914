package bot

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/support-bot/internal/dialog"
	"github.com/xaenox/support-bot/internal/storage"
	"go.uber.org/zap"
)

// sender is the slice of the Bot API the messenger needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// telegramMessenger implements dialog.Messenger over the Bot API and
// owns transport error classification: a blocked peer voids its
// assignment, a migrated chat gets every stored reference rewritten
// and the send retried once, rate limits and network errors are logged
// and dropped without retry.
type telegramMessenger struct {
	api    sender
	table  *dialog.Table
	store  storage.Storage
	logger *zap.Logger
}

func (m *telegramMessenger) SendText(ctx context.Context, chatID int64, text string) error {
	return m.send(ctx, tgbotapi.NewMessage(chatID, text))
}

func (m *telegramMessenger) PromptClaim(ctx context.Context, channelID, clientID int64, text string) error {
	msg := tgbotapi.NewMessage(channelID, text)
	msg.ReplyMarkup = claimKeyboard(clientID)
	return m.send(ctx, msg)
}

func claimKeyboard(clientID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📩 Take client",
				ClaimClient{ClientID: clientID}.callbackData()),
		),
	)
}

func (m *telegramMessenger) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	_, err := m.api.Send(msg)
	if err == nil {
		return nil
	}

	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		m.logger.Error("network error sending message",
			zap.Error(err),
			zap.Int64("chat_id", msg.ChatID))
		return err
	}

	switch {
	case tgErr.ResponseParameters.MigrateToChatID != 0:
		return m.resendMigrated(ctx, msg, tgErr.ResponseParameters.MigrateToChatID)

	case tgErr.Code == 403:
		// Peer blocked the bot; any assignment referencing the chat is void.
		m.logger.Warn("peer blocked the bot", zap.Int64("chat_id", msg.ChatID))
		adminID, held, derr := m.table.DropClient(ctx, msg.ChatID)
		if derr != nil {
			m.logger.Error("failed to drop assignment of blocked chat",
				zap.Error(derr),
				zap.Int64("chat_id", msg.ChatID))
		} else if held {
			m.logger.Info("dropped assignment of blocked chat",
				zap.Int64("admin_id", adminID),
				zap.Int64("client_id", msg.ChatID))
		}
		return err

	case tgErr.Code == 429:
		m.logger.Warn("rate limited by telegram",
			zap.Int("retry_after", tgErr.ResponseParameters.RetryAfter),
			zap.Int64("chat_id", msg.ChatID))
		return err

	default:
		m.logger.Error("failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", msg.ChatID))
		return err
	}
}

// resendMigrated rewrites every stored reference to the migrated chat,
// in memory and on disk, then retries the send once against the new id.
func (m *telegramMessenger) resendMigrated(ctx context.Context, msg tgbotapi.MessageConfig, newID int64) error {
	oldID := msg.ChatID
	m.logger.Info("chat migrated",
		zap.Int64("old_chat_id", oldID),
		zap.Int64("new_chat_id", newID))

	if err := m.table.RewriteClient(ctx, oldID, newID); err != nil {
		m.logger.Error("failed to rewrite assignment after migration", zap.Error(err))
	}
	if err := m.store.RewriteChatID(ctx, oldID, newID); err != nil {
		m.logger.Error("failed to rewrite history after migration", zap.Error(err))
	}

	msg.ChatID = newID
	if _, err := m.api.Send(msg); err != nil {
		m.logger.Error("failed to send to migrated chat",
			zap.Error(err),
			zap.Int64("chat_id", newID))
		return err
	}
	return nil
}
