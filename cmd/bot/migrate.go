package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"VPN-Shop-bot/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Run: func(_ *cobra.Command, _ []string) {
		c, cleanup := mustCreateCore()
		defer cleanup()
		if err := db.Migrate(c.gdb); err != nil {
			c.log.Fatal("migration failed", zap.Error(err))
		}
		c.log.Info("migration completed")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
