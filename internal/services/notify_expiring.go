package services

import (
	"context"
	"fmt"
	"time"

	"VPN-Shop-bot/internal/logger"
)

// NotifyExpiring warns users whose config expires within ExpiringWindow. Each connection is announced once per term.
func (j *Jobs) NotifyExpiring(ctx context.Context) error {
	window := j.ExpiringWindow
	if window <= 0 {
		window = 3 * 24 * time.Hour
	}
	conns, err := j.Provisioning.ExpiringWithin(ctx, window)
	if err != nil {
		return err
	}
	for _, c := range conns {
		if j.Notifier == nil {
			break
		}
		if err := j.Notifier.ConnectionExpiring(ctx, c); err != nil {
			logger.NotifyAdmin(fmt.Sprintf("Expiring notice for user %d not sent: %v", c.TelegramID, err))
			continue
		}
		if err := j.Provisioning.MarkNotified(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}
