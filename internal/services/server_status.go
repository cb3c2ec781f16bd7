package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/logger"
)

// RefreshServers copies the master node's server list into the servers table
// and alerts admins about servers that went down since the last refresh.
func (j *Jobs) RefreshServers(ctx context.Context) error {
	list, err := j.Node.Servers(ctx)
	if err != nil {
		logger.NotifyAdmin("Master node is unreachable: " + err.Error())
		return err
	}

	previous := map[string]string{}
	known, err := db.ListServers(j.DB.WithContext(ctx))
	if err != nil {
		return err
	}
	for _, s := range known {
		previous[s.ID] = s.Status
	}

	now := time.Now()
	for _, s := range list {
		row := db.Server{
			ID:        s.ID,
			Name:      s.ID,
			Country:   s.Country,
			PingMS:    s.PingMS,
			Status:    s.Status,
			WhiteIP:   s.WhiteIP,
			Stats:     s.Stats,
			UpdatedAt: now,
		}
		err := j.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "country", "ping_ms", "status", "white_ip", "stats", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("store server %s: %w", s.ID, err)
		}
		if s.Status != "up" && previous[s.ID] != s.Status {
			logger.NotifyAdmin(fmt.Sprintf("Server %s (%s) is %s", s.ID, s.WhiteIP, s.Status))
		}
	}
	j.logger().Debug("servers refreshed", zap.Int("count", len(list)))
	return nil
}
