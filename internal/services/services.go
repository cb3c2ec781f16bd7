// Package services holds the scheduled jobs and the HTTP endpoints that run next to the bot.
package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/payments"
	"VPN-Shop-bot/internal/provisioning"
)

// PollResumer restarts poll loops for connections left in progress.
type PollResumer interface {
	Resume(ctx context.Context) (int, error)
}

// Notifier delivers background results to users. The bot implements it.
type Notifier interface {
	OrderSettled(ctx context.Context, res *payments.Result)
	ConnectionExpiring(ctx context.Context, c db.Connection) error
	ConnectionExpired(ctx context.Context, c db.Connection) error
}

type Jobs struct {
	DB           *gorm.DB
	Node         provisioning.Node
	Provisioning *provisioning.Service
	Reconciler   *payments.Reconciler
	Poller       PollResumer
	Notifier     Notifier
	Log          *zap.Logger

	PendingOrderTTL time.Duration
	ReconcileMinAge time.Duration
	ExpiringWindow  time.Duration
	BatchSize       int
}

func (j *Jobs) logger() *zap.Logger {
	if j.Log == nil {
		return zap.NewNop()
	}
	return j.Log
}

func (j *Jobs) batch() int {
	if j.BatchSize <= 0 {
		return 100
	}
	return j.BatchSize
}

func (j *Jobs) settle(ctx context.Context, res *payments.Result) {
	if j.Notifier != nil {
		j.Notifier.OrderSettled(ctx, res)
	}
}

// ExpireOrders cancels orders left pending longer than PendingOrderTTL.
func (j *Jobs) ExpireOrders(ctx context.Context) error {
	return j.Reconciler.RunExpirePendingBatch(ctx, j.PendingOrderTTL, j.batch(), j.settle)
}

// ReconcileInvoices pulls the status of open CryptoBot invoices.
func (j *Jobs) ReconcileInvoices(ctx context.Context) error {
	return j.Reconciler.RunReconcileBatch(ctx, j.ReconcileMinAge, j.batch(), j.settle)
}

// ResumePolls picks up connections submitted by other processes, e.g. the jobs command.
func (j *Jobs) ResumePolls(ctx context.Context) error {
	n, err := j.Poller.Resume(ctx)
	if n > 0 {
		j.logger().Info("poll loops resumed", zap.Int("count", n))
	}
	return err
}
