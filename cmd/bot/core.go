package main

import (
	"context"
	"log"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"VPN-Shop-bot/config"
	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/draft"
	"VPN-Shop-bot/internal/eventlog"
	"VPN-Shop-bot/internal/ledger"
	"VPN-Shop-bot/internal/logger"
	"VPN-Shop-bot/internal/payments"
	"VPN-Shop-bot/internal/pricing"
	"VPN-Shop-bot/internal/provisioning"
)

// core holds the components shared by the bot and the maintenance commands.
type core struct {
	cfg    *config.AppConfig
	log    *zap.Logger
	gdb    *gorm.DB
	events *eventlog.Log
	drafts draft.Store
	prices *pricing.OverrideStore
	ledger *ledger.Ledger
	node   *provisioning.Client
	prov   *provisioning.Service

	closers []func()
}

func mustCreateCore() (*core, func()) {
	config.LoadConfig()
	cfg := config.AppCfg
	if err := logger.Init(cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	db.InitDB(cfg.DatabaseURL)

	c := &core{cfg: &cfg, log: logger.L(), gdb: db.DB}

	var pub eventlog.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := eventlog.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaPaymentEventsTopic)
		pub = kp
		c.closers = append(c.closers, func() { _ = kp.Close() })
		c.log.Info("payment events mirrored to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaPaymentEventsTopic))
	}
	c.events = eventlog.New(c.gdb, pub, logger.Named("eventlog"))

	switch cfg.DraftBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			c.log.Fatal("redis unavailable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		c.closers = append(c.closers, func() { _ = client.Close() })
		c.drafts = draft.NewRedisStore(client, draft.DefaultRedisTTL)
	default:
		c.drafts = draft.NewGormStore(c.gdb)
	}

	c.prices = pricing.NewOverrideStore(c.gdb)
	c.ledger = ledger.New(c.gdb)
	c.node = provisioning.NewClient(cfg.MasterNodeURL)
	c.prov = provisioning.NewService(c.gdb, c.node, c.events, logger.Named("provisioning"), cfg.PollTimeout)

	cleanup := func() {
		for i := len(c.closers) - 1; i >= 0; i-- {
			c.closers[i]()
		}
		logger.Sync()
	}
	return c, cleanup
}

// registry enables the configured payment rails. Stars needs a Telegram sender and is skipped without one.
func (c *core) registry(stars payments.InvoiceSender) *payments.Registry {
	var backends []payments.Backend
	if c.cfg.SimulationEnabled {
		backends = append(backends, payments.Simulation{})
	}
	if c.cfg.StarsEnabled && stars != nil {
		backends = append(backends, payments.NewStars(stars))
	}
	if c.cfg.CryptoBotEnabled {
		client := payments.NewCryptoBotClient(c.cfg.CryptoBotToken, c.cfg.CryptoBotAPIBase)
		backends = append(backends, payments.NewCryptoBot(client, c.cfg.CryptoBotAsset, c.cfg.PendingOrderTTL))
	}
	return payments.NewRegistry(backends...)
}
