package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiURL  string
	timeout time.Duration

	rootCmd = &cobra.Command{
		Use:   "aa",
		Short: "AA gateway CLI",
		Long: `Command line client for the AA gateway.

Builds, sponsors, signs and submits user operations through a running
gateway, such as "aa send" or "aa status <hash>".
`,
		SilenceUsage: true,
	}
)

func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api", "a", "http://localhost:3001", "gateway base url")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
}
