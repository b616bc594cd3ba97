// Package dispatch sends notifications for satisfied alerts and commits the
// trigger-state transition only after the messaging collaborator
// acknowledges the send.
package dispatch

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alert-engine/internal/logging"
)

// Notifier delivers one notification to one user. Notify returns nil only
// when the collaborator acknowledged the message.
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string) error
}

// TelegramNotifier delivers notifications over the Telegram Bot API. The
// user ID doubles as the chat ID, which holds for private chats.
type TelegramNotifier struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramNotifier creates a notifier from a bot token.
func NewTelegramNotifier(token string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logging.WithField("bot", bot.Self.UserName).Info("telegram notifier ready")
	return &TelegramNotifier{bot: bot}, nil
}

// Notify sends a message to the user's chat.
func (n *TelegramNotifier) Notify(ctx context.Context, userID int64, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(userID, message)
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}
