package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/support-bot/internal/dialog"
	"github.com/xaenox/support-bot/internal/events"
	"github.com/xaenox/support-bot/internal/storage"
	"go.uber.org/zap"
)

// Options carries the transport settings the bot needs beyond its
// collaborators.
type Options struct {
	Token            string
	AdminChannelID   int64
	Workers          int
	HistoryRetention time.Duration
}

type Bot struct {
	api       *tgbotapi.BotAPI
	table     *dialog.Table
	engine    *dialog.Engine
	store     storage.Storage
	messenger *telegramMessenger
	logger    *zap.Logger
	opts      Options
}

func New(opts Options, table *dialog.Table, store storage.Storage, publisher *events.Publisher, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(opts.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}

	messenger := &telegramMessenger{
		api:    api,
		table:  table,
		store:  store,
		logger: logger,
	}
	engine := dialog.NewEngine(table, store, messenger, publisher, opts.AdminChannelID, logger)

	return &Bot{
		api:       api,
		table:     table,
		engine:    engine,
		store:     store,
		messenger: messenger,
		logger:    logger,
		opts:      opts,
	}, nil
}

// Start long-polls for updates and fans them out over a bounded worker
// pool; every update is handled independently. Blocks until ctx is
// canceled and the workers drain.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()
	go b.runMaintenance(ctx)

	var wg sync.WaitGroup
	for i := 0; i < b.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for update := range updates {
				b.handleUpdate(ctx, update)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case routableText(update.Message):
		b.engine.Route(ctx, dialog.InboundMessage{
			SenderID: update.Message.From.ID,
			ChatID:   update.Message.Chat.ID,
			Name:     displayName(update.Message.From),
			Text:     update.Message.Text,
		})
	}
}

// routableText reports whether a message should enter the routing
// engine: plain text from a private chat. Group and channel chatter
// never routes; the bot sits in the admin channel, and a channel post
// must not be forwarded to a client or claimable as one.
func routableText(msg *tgbotapi.Message) bool {
	return msg != nil && msg.Text != "" && msg.Chat != nil && msg.Chat.IsPrivate()
}

// runMaintenance drives the three background sweeps: expired-password
// cleanup and history retention hourly, storage compaction daily.
func (b *Bot) runMaintenance(ctx context.Context) {
	hourly := time.NewTicker(time.Hour)
	daily := time.NewTicker(24 * time.Hour)
	defer hourly.Stop()
	defer daily.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hourly.C:
			if n := b.table.SweepExpiredPasswords(ctx); n > 0 {
				b.logger.Info("swept expired passwords", zap.Int("count", n))
			}
			if b.opts.HistoryRetention > 0 {
				cutoff := time.Now().Add(-b.opts.HistoryRetention)
				if err := b.store.PurgeHistoryBefore(ctx, cutoff); err != nil {
					b.logger.Error("history purge failed", zap.Error(err))
				}
			}
		case <-daily.C:
			if err := b.store.Compact(ctx); err != nil {
				b.logger.Error("storage compaction failed", zap.Error(err))
			}
		}
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) editMessage(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Error("failed to edit message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) editMessageWithKeyboard(chatID int64, messageID int, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, keyboard)
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Error("failed to edit message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func displayName(user *tgbotapi.User) string {
	if user == nil {
		return "Unknown User"
	}
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	if user.UserName != "" {
		return fmt.Sprintf("%s (@%s)", name, user.UserName)
	}
	return name
}
