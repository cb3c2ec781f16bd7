package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/logger"
	"VPN-Shop-bot/internal/payments"
	"VPN-Shop-bot/internal/services"
)

var (
	workerMode     bool
	workerInterval time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run maintenance jobs once or as a worker",
}

var expireOrdersCmd = &cobra.Command{
	Use:   "expire-orders",
	Short: "Cancel orders left pending past their TTL",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand("expire_orders", func(j *services.Jobs) func(context.Context) error { return j.ExpireOrders })
	},
}

var reconcileInvoicesCmd = &cobra.Command{
	Use:   "reconcile-invoices",
	Short: "Check open CryptoBot invoices and settle paid orders",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand("reconcile_invoices", func(j *services.Jobs) func(context.Context) error { return j.ReconcileInvoices })
	},
}

var refreshServersCmd = &cobra.Command{
	Use:   "refresh-servers",
	Short: "Refresh the server status table from the master node",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand("refresh_servers", func(j *services.Jobs) func(context.Context) error { return j.RefreshServers })
	},
}

func init() {
	jobsCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "keep running and repeat the job on an interval")
	jobsCmd.PersistentFlags().DurationVar(&workerInterval, "interval", time.Minute, "worker interval")
	jobsCmd.AddCommand(expireOrdersCmd, reconcileInvoicesCmd, refreshServersCmd)
	rootCmd.AddCommand(jobsCmd)
}

// deferredPolls leaves submitted connections to the bot process, whose resume_polls job picks them up.
type deferredPolls struct{}

func (deferredPolls) Start(*db.Connection) bool { return false }

func runCommand(name string, pick func(*services.Jobs) func(context.Context) error) {
	c, cleanup := mustCreateCore()
	defer cleanup()

	reconciler := payments.NewReconciler(c.ledger, c.drafts, c.registry(nil), c.events, c.prov, deferredPolls{}, logger.Named("reconciler"))
	jobs := &services.Jobs{
		DB:              c.gdb,
		Node:            c.node,
		Provisioning:    c.prov,
		Reconciler:      reconciler,
		Log:             logger.Named("jobs"),
		PendingOrderTTL: c.cfg.PendingOrderTTL,
		ReconcileMinAge: time.Minute,
	}
	fn := pick(jobs)

	if workerMode {
		runWorker(c.log, jobs, name, fn)
		return
	}
	if err := jobs.Run(name, fn); err != nil {
		cleanup()
		os.Exit(1)
	}
}

func runWorker(log *zap.Logger, jobs *services.Jobs, name string, fn func(context.Context) error) {
	log.Info("worker started", zap.String("job", name), zap.Duration("interval", workerInterval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(workerInterval)
	defer ticker.Stop()

	_ = jobs.Run(name, fn)
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped", zap.String("job", name))
			return
		case <-ticker.C:
			_ = jobs.Run(name, fn)
		}
	}
}
