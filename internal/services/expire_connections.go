package services

import (
	"context"
	"fmt"

	"VPN-Shop-bot/internal/logger"
)

// ExpireConnections marks configs past their term as expired and tells their owners.
func (j *Jobs) ExpireConnections(ctx context.Context) error {
	expired, err := j.Provisioning.ExpireDue(ctx)
	if err != nil {
		return err
	}
	for _, c := range expired {
		if j.Notifier == nil {
			continue
		}
		if err := j.Notifier.ConnectionExpired(ctx, c); err != nil {
			logger.NotifyAdmin(fmt.Sprintf("Expiry notice for connection %d not sent: %v", c.ID, err))
		}
	}
	return nil
}
