package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"VPN-Shop-bot/internal/logger"
)

// Schedule registers every job on c. The caller starts and stops the cron.
func (j *Jobs) Schedule(c *cron.Cron) error {
	specs := []struct {
		spec string
		name string
		fn   func(context.Context) error
	}{
		{"@every 1m", "refresh_servers", j.RefreshServers},
		{"@every 1m", "reconcile_invoices", j.ReconcileInvoices},
		{"@every 1m", "resume_polls", j.ResumePolls},
		{"@every 5m", "expire_orders", j.ExpireOrders},
		{"0 10 * * *", "notify_expiring", j.NotifyExpiring},
		{"30 3 * * *", "expire_connections", j.ExpireConnections},
	}
	for _, s := range specs {
		s := s
		if _, err := c.AddFunc(s.spec, func() { j.Run(s.name, s.fn) }); err != nil {
			return err
		}
	}
	return nil
}

// Run executes one job with a timeout and logs the result.
func (j *Jobs) Run(name string, fn func(context.Context) error) error {
	defer logger.NotifyOnPanic("job " + name)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	latency := time.Since(start)
	if err != nil {
		j.logger().Error("job_failed", zap.String("job", name), zap.Duration("latency", latency), zap.Error(err))
		return err
	}
	j.logger().Info("job_completed", zap.String("job", name), zap.Duration("latency", latency))
	return nil
}
