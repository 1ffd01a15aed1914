package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/support-bot/internal/dialog"
	"github.com/xaenox/support-bot/internal/models"
	"go.uber.org/zap"
)

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Error("failed to answer callback", zap.Error(err))
	}
	if query.Message == nil {
		return
	}

	action, err := decodeAction(query.Data)
	if err != nil {
		b.logger.Warn("unrecognized callback", zap.Error(err))
		return
	}

	adminID := query.From.ID
	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID

	switch a := action.(type) {
	case ClaimClient:
		b.handleClaim(ctx, adminID, chatID, messageID, a.ClientID)

	case CloseDialog:
		if clientID, ok := b.table.AssignedClient(adminID); ok {
			keyboard := tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonData("✅ Confirm",
						ConfirmClose{}.callbackData()),
					tgbotapi.NewInlineKeyboardButtonData("↩️ Keep dialog",
						CancelTransfer{}.callbackData()),
				),
			)
			b.editMessageWithKeyboard(chatID, messageID,
				fmt.Sprintf("❓ Close the dialog with client %d?", clientID), keyboard)
		} else {
			b.editMessage(chatID, messageID, "❌ You have no active dialog.")
		}

	case ConfirmClose:
		clientID, err := b.engine.CloseDialog(ctx, adminID)
		switch {
		case err == nil:
			b.editMessage(chatID, messageID,
				fmt.Sprintf("✅ Dialog with client %d closed.", clientID))
		case errors.Is(err, dialog.ErrNoActiveDialog):
			b.editMessage(chatID, messageID, "❌ You have no active dialog.")
		default:
			b.logger.Error("failed to close dialog", zap.Error(err))
			b.editMessage(chatID, messageID, "❌ Could not close the dialog, try again.")
		}

	case OpenTransferMenu:
		b.renderTransferMenu(adminID, chatID, messageID,
			"👥 Pick the admin who should take over the client:")

	case TransferTo:
		b.handleTransfer(ctx, adminID, chatID, messageID, a.AdminID)

	case CancelTransfer:
		b.editMessage(chatID, messageID, "❌ Cancelled.")

	case ToggleStatus:
		active, err := b.table.ToggleActive(ctx, adminID)
		if err != nil {
			b.logger.Error("failed to toggle status", zap.Error(err))
			b.editMessage(chatID, messageID, "❌ Could not change your status.")
			return
		}
		if admin, ok := b.table.Admin(adminID); ok {
			b.editMessageWithKeyboard(chatID, messageID, b.panelText(admin), b.panelKeyboard(admin))
		}
		b.logger.Info("admin toggled status",
			zap.Int64("admin_id", adminID),
			zap.Bool("active", active))

	case GeneratePassword:
		b.handleGeneratePassword(ctx, adminID, chatID)

	case PromoteInfo:
		if admin, ok := b.table.Admin(adminID); !ok || admin.Level != models.LevelSupervisor {
			return
		}
		b.sendMessage(chatID,
			"⭐ Promoting an admin to level 2:\n\n"+
				"1. Find out the admin's user id\n"+
				"2. Run /promote <user_id>\n\n"+
				"Only registered level-1 admins can be promoted.")

	case ShowStats:
		if _, ok := b.table.Admin(adminID); !ok {
			b.editMessage(chatID, messageID, "❌ You do not have access to statistics.")
			return
		}
		text, err := b.statsText(ctx)
		if err != nil {
			b.logger.Error("failed to collect statistics", zap.Error(err))
			return
		}
		keyboard := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", ShowStats{}.callbackData()),
			),
		)
		b.editMessageWithKeyboard(chatID, messageID, text, keyboard)
	}
}

func (b *Bot) handleClaim(ctx context.Context, adminID, chatID int64, messageID int, clientID int64) {
	err := b.engine.Claim(ctx, adminID, clientID)
	switch {
	case err == nil:
		b.editMessage(chatID, messageID, fmt.Sprintf(
			"✅ You took client %d.\nYou can now reply to their messages.", clientID))
		b.logger.Info("admin claimed client",
			zap.Int64("admin_id", adminID),
			zap.Int64("client_id", clientID))
	case errors.Is(err, dialog.ErrClientAlreadyClaimed):
		b.editMessage(chatID, messageID, "❌ The client is already taken by another admin!")
	case errors.Is(err, dialog.ErrAdminBusy):
		b.editMessage(chatID, messageID, "❌ Close your current dialog before taking a new client.")
	case errors.Is(err, dialog.ErrNotAnAdmin):
		b.editMessage(chatID, messageID, "❌ Only registered admins can take clients.")
	default:
		b.logger.Error("claim failed", zap.Error(err))
		b.editMessage(chatID, messageID, "❌ Could not take the client, try again.")
	}
}

func (b *Bot) handleTransfer(ctx context.Context, fromAdminID, chatID int64, messageID int, toAdminID int64) {
	clientID, err := b.engine.Transfer(ctx, fromAdminID, toAdminID)
	switch {
	case err == nil:
		to, _ := b.table.Admin(toAdminID)
		b.editMessage(chatID, messageID, fmt.Sprintf(
			"✅ Client %d handed over to admin #%s.", clientID, to.Tag))
	case errors.Is(err, dialog.ErrTargetBusy):
		// The listing was stale; render a fresh one and let them retry.
		b.renderTransferMenu(fromAdminID, chatID, messageID,
			"❌ That admin just got busy. Pick another one:")
	case errors.Is(err, dialog.ErrNoActiveDialog):
		b.editMessage(chatID, messageID, "❌ You no longer have a dialog to transfer.")
	case errors.Is(err, dialog.ErrNotAnAdmin):
		b.editMessage(chatID, messageID, "❌ That admin is no longer registered.")
	default:
		b.logger.Error("transfer failed", zap.Error(err))
		b.editMessage(chatID, messageID, "❌ Could not transfer the client, try again.")
	}
}

func (b *Bot) renderTransferMenu(initiatorID, chatID int64, messageID int, text string) {
	options := b.engine.TransferOptions(initiatorID)
	if len(options) == 0 {
		b.editMessage(chatID, messageID, "❌ There is no other admin to hand the client to.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, opt := range options {
		status := "🟢"
		if opt.Admin.Busy {
			status = "🔴"
		} else if !opt.Admin.Admin.Active {
			status = "⚫"
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%s #%s", status, opt.Admin.Admin.Tag),
			TransferTo{AdminID: opt.Admin.Admin.ID}.callbackData()))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", CancelTransfer{}.callbackData()),
	})

	b.editMessageWithKeyboard(chatID, messageID, text, tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) handleGeneratePassword(ctx context.Context, adminID, chatID int64) {
	token, err := b.table.IssuePassword(ctx, adminID)
	switch {
	case err == nil:
		b.sendMessage(chatID, fmt.Sprintf(
			"🔑 One-time password for a new admin:\n%s\n\n"+
				"Hand it over out of band; it is valid for 24 hours.\n"+
				"The new admin registers with:\n/set_tag %s <desired_tag>", token, token))
		b.logger.Info("one-time password issued", zap.Int64("admin_id", adminID))
	case errors.Is(err, dialog.ErrUnauthorized):
		b.sendMessage(chatID, "❌ Only level-2 admins can generate passwords.")
	default:
		b.logger.Error("failed to issue password", zap.Error(err))
		b.sendMessage(chatID, "❌ Could not generate a password, try again.")
	}
}
