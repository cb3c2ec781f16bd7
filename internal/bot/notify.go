package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/logger"
	"VPN-Shop-bot/internal/payments"
)

// Users talk to the bot in private chats, so the chat id is the Telegram user id.
func (b *Bot) viewFor(ctx context.Context, telegramID int64) view {
	return view{chatID: telegramID, userID: telegramID, lang: b.Users.Language(ctx, telegramID)}
}

// OrderSettled tells the user about an order settled in the background.
func (b *Bot) OrderSettled(ctx context.Context, res *payments.Result) {
	if res == nil || res.Order == nil {
		return
	}
	v := b.viewFor(ctx, res.Order.TelegramID)
	b.showResult(ctx, v, res, nil)
}

// ConnectionFinished is the poller's terminal callback.
func (b *Bot) ConnectionFinished(ctx context.Context, c *db.Connection) {
	v := b.viewFor(ctx, c.TelegramID)
	switch c.Status {
	case db.ConnReady:
		until := ""
		if c.ExpiresAt != nil {
			until = c.ExpiresAt.Format("02.01.2006")
		}
		b.show(ctx, v, tr(v.lang, "config_ready", c.OrderID, until, c.Config), doneMenu(v.lang))
	case db.ConnFailed:
		logger.NotifyAdmin(fmt.Sprintf("Provisioning failed for order %d (connection %d): %s", c.OrderID, c.ID, c.LastError))
		b.show(ctx, v, tr(v.lang, "config_failed", c.OrderID), mainMenu(v.lang))
	}
}

func (b *Bot) ConnectionExpiring(ctx context.Context, c db.Connection) error {
	v := b.viewFor(ctx, c.TelegramID)
	until := ""
	if c.ExpiresAt != nil {
		until = c.ExpiresAt.Format("02.01.2006")
	}
	return b.notice(v, tr(v.lang, "config_expiring", c.OrderID, until))
}

func (b *Bot) ConnectionExpired(ctx context.Context, c db.Connection) error {
	v := b.viewFor(ctx, c.TelegramID)
	return b.notice(v, tr(v.lang, "config_expired", c.OrderID))
}

// notice sends a standalone message that does not replace the current screen.
func (b *Bot) notice(v view, text string) error {
	msg := tgbotapi.NewMessage(v.chatID, text)
	msg.ReplyMarkup = doneMenu(v.lang)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("notice not sent", zap.Int64("telegram_id", v.userID), zap.Error(err))
		return err
	}
	return nil
}
