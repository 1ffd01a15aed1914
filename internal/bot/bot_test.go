package bot

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func TestRoutableText(t *testing.T) {
	assert.True(t, routableText(&tgbotapi.Message{
		Text: "hello",
		Chat: &tgbotapi.Chat{ID: 500, Type: "private"},
	}))

	// Chatter in the admin channel (or any group) never enters the
	// router; otherwise a channel post would be forwarded to a client
	// or offered for claiming with the channel as the client.
	assert.False(t, routableText(&tgbotapi.Message{
		Text: "hello",
		Chat: &tgbotapi.Chat{ID: -1000, Type: "supergroup"},
	}))
	assert.False(t, routableText(&tgbotapi.Message{
		Text: "hello",
		Chat: &tgbotapi.Chat{ID: -1000, Type: "channel"},
	}))

	assert.False(t, routableText(nil))
	assert.False(t, routableText(&tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 500, Type: "private"},
	}))
	assert.False(t, routableText(&tgbotapi.Message{Text: "hello"}))
}
