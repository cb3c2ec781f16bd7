package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"VPN-Shop-bot/internal/admin"
	"VPN-Shop-bot/internal/bot"
	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/logger"
	"VPN-Shop-bot/internal/payments"
	"VPN-Shop-bot/internal/provisioning"
	"VPN-Shop-bot/internal/services"
	"VPN-Shop-bot/internal/users"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram bot with its HTTP endpoints and scheduled jobs",
	Run:   runBot,
}

func init() {
	rootCmd.AddCommand(botCmd)
}

func runBot(_ *cobra.Command, _ []string) {
	c, cleanup := mustCreateCore()
	defer cleanup()

	api, err := tgbotapi.NewBotAPI(c.cfg.BotToken)
	if err != nil {
		c.log.Fatal("Failed to create bot", zap.Error(err))
	}
	c.log.Info("authorized", zap.String("account", api.Self.UserName))
	logger.InitNotifier(api, c.cfg.SupportAdminIDs)

	reg := c.registry(bot.NewStarsInvoices(api))

	var tg *bot.Bot
	poller := provisioning.NewPoller(c.prov, provisioning.PollerConfig{
		Interval:    c.cfg.PollInterval,
		MaxAttempts: c.cfg.PollMaxAttempts,
		OnTerminal: func(ctx context.Context, conn *db.Connection) {
			tg.ConnectionFinished(ctx, conn)
		},
	}, logger.Named("poller"))

	checkout := payments.NewCheckout(c.ledger, c.drafts, c.prices, reg, c.events, logger.Named("checkout"))
	reconciler := payments.NewReconciler(c.ledger, c.drafts, reg, c.events, c.prov, poller, logger.Named("reconciler"))
	tg = bot.New(api, bot.Deps{
		Users:        users.NewStore(c.gdb, c.cfg.DefaultLanguage),
		Drafts:       c.drafts,
		Prices:       c.prices,
		Ledger:       c.ledger,
		Checkout:     checkout,
		Reconciler:   reconciler,
		Backends:     reg,
		Provisioning: c.prov,
		Poller:       poller,
		Admin:        admin.NewHandler(c.gdb, c.ledger, c.events, poller, c.cfg.IsAdmin),
	}, logger.Named("bot"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n, err := poller.Resume(ctx); err != nil {
		c.log.Error("poll loops not resumed", zap.Error(err))
	} else {
		c.log.Info("poll loops resumed", zap.Int("count", n))
	}

	jobs := &services.Jobs{
		DB:              c.gdb,
		Node:            c.node,
		Provisioning:    c.prov,
		Reconciler:      reconciler,
		Poller:          poller,
		Notifier:        tg,
		Log:             logger.Named("jobs"),
		PendingOrderTTL: c.cfg.PendingOrderTTL,
		ReconcileMinAge: time.Minute,
	}
	scheduler := cron.New()
	if err := jobs.Schedule(scheduler); err != nil {
		c.log.Fatal("Failed to schedule jobs", zap.Error(err))
	}
	scheduler.Start()

	httpSrv := &services.HTTP{Handler: reconciler, Notifier: tg, Log: logger.Named("http")}
	if c.cfg.CryptoBotEnabled {
		httpSrv.CryptoBotToken = c.cfg.CryptoBotToken
	}
	e := httpSrv.Echo()
	go func() {
		c.log.Info("Starting HTTP server", zap.String("addr", c.cfg.HTTPAddr))
		if err := e.Start(c.cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()
	tg.Run(ctx, updates)

	c.log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	<-scheduler.Stop().Done()
	if err := e.Shutdown(shutdownCtx); err != nil {
		c.log.Error("HTTP server shutdown", zap.Error(err))
	}
	if err := poller.Shutdown(shutdownCtx); err != nil {
		c.log.Error("poller shutdown", zap.Error(err))
	}
}
