// Command tokenctl runs operator tasks against the tokens database:
// migrations, grants, redemption transitions, weekly resets and balance
// reconciliation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reach/reach-api/internal/config"
	"github.com/reach/reach-api/internal/pkg/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "tokenctl",
	Short:         "Operate the Reach token ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if url, _ := cmd.Flags().GetString("database-url"); url != "" {
			cfg.DatabaseURL = url
		}
		return logger.Init(logger.Config{
			Level:       cfg.LogLevel,
			Environment: cfg.Env,
			LogFile:     cfg.LogFile,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (defaults to DATABASE_URL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
