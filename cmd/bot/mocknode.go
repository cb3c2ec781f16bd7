package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"VPN-Shop-bot/config"
	"VPN-Shop-bot/internal/logger"
	"VPN-Shop-bot/internal/mocknode"
)

var mockNodeCmd = &cobra.Command{
	Use:   "mock-node",
	Short: "Run a local master node stub for development",
	Run: func(_ *cobra.Command, _ []string) {
		cfg := config.LoadMockNode()
		if err := logger.Init("info"); err != nil {
			log.Fatalf("Failed to init logger: %v", err)
		}
		defer logger.Sync()
		l := logger.Named("mocknode")

		e := mocknode.New(cfg, l).Echo()
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			l.Info("Starting mock master node", zap.String("addr", cfg.Addr), zap.Duration("task_delay", cfg.TaskDelay), zap.Float64("fail_rate", cfg.FailRate))
			if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Fatal("mock node error", zap.Error(err))
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			l.Error("mock node shutdown", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(mockNodeCmd)
}
