// Command ordersctl runs maintenance tasks against the order store: schema
// migration, catalog seeding, manual delivery passes and conflict review.
package main

import (
	"fmt"
	"os"

	"freshness-orders/internal/client"
	"freshness-orders/internal/config"
	"freshness-orders/internal/logger"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Version = "dev"

type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "ordersctl",
		Short:         "Maintenance commands for the order service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	rootCmd.AddCommand(migrateCmd(a))
	rootCmd.AddCommand(seedCmd(a))
	rootCmd.AddCommand(deliverCmd(a))
	rootCmd.AddCommand(conflictsCmd(a))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) init() error {
	_ = godotenv.Load()

	a.cfg = &config.Config{}
	if err := env.Parse(a.cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	log, err := logger.NewZapLog(a.cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.log = log

	// opening the store also brings the schema up to date
	db, err := client.InitDB(a.cfg.Database.Driver, a.cfg.Database.URL)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}
