package logger

import (
	"fmt"
	"sync"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var (
	botInstance *tgbotapi.BotAPI
	adminIDs    []int64
	once        sync.Once
)

// InitNotifier wires Telegram alerts for the support admins.
func InitNotifier(bot *tgbotapi.BotAPI, admins []int64) {
	once.Do(func() {
		botInstance = bot
		adminIDs = admins
	})
}

// NotifyAdmin logs the alert and forwards it to every support admin.
func NotifyAdmin(msg string) {
	log.Warn("admin_alert", zap.String("message", msg))
	if botInstance == nil {
		return
	}
	for _, id := range adminIDs {
		if _, err := botInstance.Send(tgbotapi.NewMessage(id, "[ALERT] "+msg)); err != nil {
			log.Error("admin_alert_failed", zap.Int64("admin_id", id), zap.Error(err))
		}
	}
}

// NotifyOnPanic recovers, logs and alerts. Use as a deferred call.
func NotifyOnPanic(context string) {
	if r := recover(); r != nil {
		log.Error("panic_recovered", zap.String("context", context), zap.Any("panic", r))
		NotifyAdmin("Panic in " + context + ": " + toString(r))
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}
