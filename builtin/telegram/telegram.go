// Package telegram provides a builtin.Notifier that delivers notifications
// as Telegram messages.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/valet-ai/valet/builtin"
)

// Sender is the subset of tgbotapi.BotAPI the notifier needs; wrapping it
// keeps the notifier testable without a live bot.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ChatResolver maps a valet user id to a Telegram chat id.
type ChatResolver func(userID string) (int64, bool)

// Notifier delivers notifications via a Telegram bot.
type Notifier struct {
	bot     Sender
	resolve ChatResolver
}

// NewNotifier creates a notifier over an authenticated bot API token.
func NewNotifier(token string, resolve ChatResolver) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: creating bot: %w", err)
	}
	return NewNotifierFromSender(bot, resolve), nil
}

// NewNotifierFromSender creates a notifier over an existing sender.
func NewNotifierFromSender(bot Sender, resolve ChatResolver) *Notifier {
	return &Notifier{bot: bot, resolve: resolve}
}

// Send implements builtin.Notifier.
func (n *Notifier) Send(ctx context.Context, notification builtin.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, ok := n.resolve(notification.UserID)
	if !ok {
		return fmt.Errorf("telegram: no chat registered for user '%s'", notification.UserID)
	}

	text := notification.Message
	if notification.Title != "" {
		text = fmt.Sprintf("<b>%s</b>\n%s", notification.Title, notification.Message)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: sending message: %w", err)
	}
	return nil
}
