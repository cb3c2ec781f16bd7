package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vpnshop",
	Short: "VPN shop Telegram bot",
	Long:  "Telegram bot that sells VPN plans, takes payments and provisions configs through the master node.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
