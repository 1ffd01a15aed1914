package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/support-bot/internal/dialog"
	"github.com/xaenox/support-bot/internal/models"
	"go.uber.org/zap"
)

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "admins":
		b.handleListAdmins(message)
	case "set_tag":
		b.handleSetTag(ctx, message)
	case "promote":
		b.handlePromote(ctx, message)
	case "admin":
		b.handleAdminPanel(message)
	case "stats":
		b.handleStats(ctx, message)
	case "broadcast":
		b.handleBroadcast(ctx, message)
	case "monitor":
		b.handleMonitor(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := fmt.Sprintf(`Welcome to the support desk, %s! 👋

🔹 Just write a message to reach an admin
🔹 Pick a specific admin with /admins
🔹 See all commands with /help`, displayName(message.From))
	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/admins - List available admins`

	if admin, ok := b.table.Admin(message.From.ID); ok {
		help += `

Admin commands:
/admin - Admin panel
/stats - Usage statistics`
		if admin.Level == models.LevelSupervisor {
			help += `

Supervisor commands:
/monitor - Active dialog overview
/promote <user_id> - Promote an admin
/broadcast <text> - Message every known client`
		}
	} else {
		help += `
/set_tag <password> <tag> - Register as an admin`
	}

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleListAdmins(message *tgbotapi.Message) {
	admins := b.table.ListAdmins()
	if len(admins) == 0 {
		b.sendMessage(message.Chat.ID, "No admins are registered yet. Please try again later!")
		return
	}

	anyFree := false
	var lines []string
	for _, s := range admins {
		status := "🟢"
		switch {
		case s.Busy:
			status = "🔴"
		case !s.Admin.Active:
			status = "⚫"
		default:
			anyFree = true
		}
		lines = append(lines, fmt.Sprintf("%s #%s", status, s.Admin.Tag))
	}

	text := "📋 Admins:\n\n" + strings.Join(lines, "\n")
	if anyFree {
		text += "\n\n💡 To pick an admin, send their hashtag (for example: #support)"
	} else {
		text += "\n\n😔 All admins are busy or away right now. Please try later!"
	}
	b.sendMessage(message.Chat.ID, text)
}

func (b *Bot) handleSetTag(ctx context.Context, message *tgbotapi.Message) {
	args := strings.Fields(message.CommandArguments())
	if len(args) != 2 {
		b.sendMessage(message.Chat.ID, "Usage: /set_tag <password> <tag>")
		return
	}
	password, tag := args[0], args[1]

	err := b.table.RegisterAdmin(ctx, message.From.ID, password, tag)
	switch {
	case err == nil:
		b.sendMessage(message.Chat.ID, fmt.Sprintf(
			"✅ Tag set: %s\nYou are now a level-1 admin.", tag))
		b.logger.Info("new admin registered",
			zap.Int64("admin_id", message.From.ID),
			zap.String("tag", tag))
	case errors.Is(err, dialog.ErrExpiredPassword):
		b.sendMessage(message.Chat.ID,
			"❌ The password has expired. Ask a level-2 admin for a new one.")
	case errors.Is(err, dialog.ErrInvalidPassword):
		b.sendMessage(message.Chat.ID, "❌ Invalid password!")
		b.logger.Warn("registration attempt with invalid password",
			zap.Int64("user_id", message.From.ID))
	case errors.Is(err, dialog.ErrTagTaken):
		b.sendMessage(message.Chat.ID, "❌ That tag is already taken, pick another one.")
	case errors.Is(err, dialog.ErrInvalidTag):
		b.sendMessage(message.Chat.ID, "❌ That tag is not usable, pick another one.")
	default:
		b.logger.Error("failed to register admin", zap.Error(err))
		b.sendMessage(message.Chat.ID, "❌ Could not save your registration. Please try again later.")
	}
}

func (b *Bot) handlePromote(ctx context.Context, message *tgbotapi.Message) {
	args := strings.Fields(message.CommandArguments())
	if len(args) != 1 {
		b.sendMessage(message.Chat.ID, "Usage: /promote <user_id>")
		return
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.sendMessage(message.Chat.ID, "❌ That does not look like a user id.")
		return
	}

	err = b.table.Promote(ctx, message.From.ID, targetID)
	switch {
	case err == nil:
		b.sendMessage(message.Chat.ID, fmt.Sprintf(
			"✅ Admin %d has been promoted to level 2!", targetID))
		// Best effort; the promotion stands even if this never arrives.
		b.sendMessage(targetID,
			"🎉 Congratulations! You have been promoted to a level-2 admin.\n"+
				"You can now monitor dialogs, generate registration passwords and promote other admins.")
		b.logger.Info("admin promoted",
			zap.Int64("actor_id", message.From.ID),
			zap.Int64("target_id", targetID))
	case errors.Is(err, dialog.ErrUnauthorized):
		b.sendMessage(message.Chat.ID, "❌ Only level-2 admins can promote.")
	case errors.Is(err, dialog.ErrNotAnAdmin):
		b.sendMessage(message.Chat.ID, "❌ That user is not a registered admin.")
	case errors.Is(err, dialog.ErrAlreadyMaxLevel):
		b.sendMessage(message.Chat.ID, "❌ That admin is already level 2.")
	default:
		b.logger.Error("failed to promote admin", zap.Error(err))
		b.sendMessage(message.Chat.ID, "❌ Could not save the promotion. Please try again later.")
	}
}

func (b *Bot) handleAdminPanel(message *tgbotapi.Message) {
	admin, ok := b.table.Admin(message.From.ID)
	if !ok {
		b.sendMessage(message.Chat.ID, "❌ You do not have access to the admin panel.")
		return
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, b.panelText(admin))
	msg.ReplyMarkup = b.panelKeyboard(admin)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("failed to send admin panel",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) panelText(admin models.Admin) string {
	status := "🟢 available"
	if !admin.Active {
		status = "⚫ away"
	}
	text := fmt.Sprintf("Admin panel\n\nTag: #%s\nLevel: %d\nStatus: %s",
		admin.Tag, admin.Level, status)
	if clientID, ok := b.table.AssignedClient(admin.ID); ok {
		text += fmt.Sprintf("\nActive dialog with client %d", clientID)
	} else {
		text += "\nNo active dialog"
	}
	return text
}

func (b *Bot) panelKeyboard(admin models.Admin) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		{
			tgbotapi.NewInlineKeyboardButtonData("✅ Close dialog", CloseDialog{}.callbackData()),
			tgbotapi.NewInlineKeyboardButtonData("👥 Transfer client", OpenTransferMenu{}.callbackData()),
		},
		{
			tgbotapi.NewInlineKeyboardButtonData("🔄 Toggle status", ToggleStatus{}.callbackData()),
			tgbotapi.NewInlineKeyboardButtonData("📊 Stats", ShowStats{}.callbackData()),
		},
	}
	if admin.Level == models.LevelSupervisor {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🔑 Generate password", GeneratePassword{}.callbackData()),
			tgbotapi.NewInlineKeyboardButtonData("⭐ How to promote", PromoteInfo{}.callbackData()),
		})
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) statsText(ctx context.Context) (string, error) {
	stats, err := b.store.Stats(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("📊 Bot statistics:\n\n"+
		"📨 Messages: %d\n"+
		"👤 Clients: %d\n"+
		"💬 Active dialogs: %d\n"+
		"👨‍💼 Admins: %d",
		stats.TotalMessages,
		stats.TotalClients,
		len(b.table.Assignments()),
		len(b.table.ListAdmins())), nil
}

func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	if _, ok := b.table.Admin(message.From.ID); !ok {
		b.sendMessage(message.Chat.ID, "❌ You do not have access to statistics.")
		return
	}
	text, err := b.statsText(ctx)
	if err != nil {
		b.logger.Error("failed to collect statistics", zap.Error(err))
		b.sendMessage(message.Chat.ID, "❌ Could not collect statistics right now.")
		return
	}
	b.sendMessage(message.Chat.ID, text)
}

func (b *Bot) handleBroadcast(ctx context.Context, message *tgbotapi.Message) {
	admin, ok := b.table.Admin(message.From.ID)
	if !ok || admin.Level != models.LevelSupervisor {
		b.sendMessage(message.Chat.ID, "❌ Broadcast is available to level-2 admins only.")
		return
	}

	text := strings.TrimSpace(message.CommandArguments())
	if text == "" {
		b.sendMessage(message.Chat.ID, "Usage: /broadcast <message>")
		return
	}

	clients, err := b.store.DistinctClients(ctx)
	if err != nil {
		b.logger.Error("failed to list broadcast recipients", zap.Error(err))
		b.sendMessage(message.Chat.ID, "❌ Could not collect the recipient list.")
		return
	}

	body := "📢 Announcement from the support team:\n\n" + text
	sent, failed := 0, 0
	for _, clientID := range clients {
		if _, err := b.api.Send(tgbotapi.NewMessage(clientID, body)); err != nil {
			b.logger.Error("broadcast delivery failed",
				zap.Error(err),
				zap.Int64("client_id", clientID))
			failed++
		} else {
			sent++
		}
		// Keep under the flood limits.
		time.Sleep(100 * time.Millisecond)
	}

	b.sendMessage(message.Chat.ID, fmt.Sprintf(
		"📊 Broadcast finished:\n✅ Delivered: %d\n❌ Failed: %d", sent, failed))
}

func (b *Bot) handleMonitor(ctx context.Context, message *tgbotapi.Message) {
	admin, ok := b.table.Admin(message.From.ID)
	if !ok || admin.Level != models.LevelSupervisor {
		b.sendMessage(message.Chat.ID, "❌ Monitoring is available to level-2 admins only.")
		return
	}

	assignments := b.table.Assignments()
	if len(assignments) == 0 {
		b.sendMessage(message.Chat.ID, "📊 No active dialogs right now.")
		return
	}

	var sections []string
	for _, a := range assignments {
		holder, _ := b.table.Admin(a.AdminID)
		section := fmt.Sprintf("👨‍💼 Admin: #%s\n👤 Client: %d\n⏱ Since: %s",
			holder.Tag, a.ClientID, a.StartedAt.Format("2006-01-02 15:04"))

		messages, err := b.store.RecentMessages(ctx, a.AdminID, a.ClientID, 3)
		if err != nil {
			b.logger.Error("failed to load dialog preview", zap.Error(err))
		} else if len(messages) > 0 {
			var preview []string
			for _, m := range messages {
				role := "👨‍💼"
				if m.SenderID == a.ClientID {
					role = "👤"
				}
				preview = append(preview, role+" "+truncate(m.Text, 50))
			}
			section += "\n💬 Recent:\n" + strings.Join(preview, "\n")
		}
		sections = append(sections, section)
	}

	b.sendMessage(message.Chat.ID, "📊 Active dialogs:\n\n"+strings.Join(sections, "\n➖➖➖➖➖\n"))
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
