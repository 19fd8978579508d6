package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"freshness-orders/internal/clock"
	"freshness-orders/internal/notify"
	"freshness-orders/internal/repository"
	"freshness-orders/internal/scheduler"
	"freshness-orders/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.log.Info("schema up to date", zap.String("driver", a.cfg.Database.Driver))
			return nil
		},
	}
}

func seedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo product catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := repository.NewProductRepository(a.db).Seed(cmd.Context()); err != nil {
				return fmt.Errorf("seed products: %w", err)
			}
			a.log.Info("catalog seeded")
			return nil
		},
	}
}

func deliverCmd(a *app) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Run one subscription delivery pass now",
		Long: "Creates the orders for every subscription due on the given UTC day. " +
			"The pass takes the same lease as the scheduler inside the API, so it is skipped while one is running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var day time.Time
			if asOf != "" {
				var err error
				day, err = time.Parse(time.DateOnly, asOf)
				if err != nil {
					return fmt.Errorf("--as-of must look like 2006-01-02: %w", err)
				}
			}
			clk := clock.Real{}

			orderRepo := repository.NewOrderRepository(a.db)
			productRepo := repository.NewProductRepository(a.db)
			orders := service.NewOrderService(
				a.db, orderRepo, repository.NewLedgerRepository(a.db), productRepo,
				notify.NewLogNotifier(a.log), a.cfg.Payments.Currency, a.log,
			)
			subscriptions := service.NewSubscriptionService(
				a.db, repository.NewSubscriptionRepository(a.db), orderRepo, productRepo, orders,
				clk, a.cfg.Scheduler.BatchSize, a.cfg.Payments.Currency, a.log,
			)
			s := scheduler.New(subscriptions, repository.NewLeaseRepository(a.db), clk, a.cfg.Scheduler.Spec, a.cfg.Scheduler.LeaseTTL, a.log)

			run := s.RunNow
			if !day.IsZero() {
				run = func(ctx context.Context) (*scheduler.TickResult, error) { return s.RunAt(ctx, day) }
			}
			result, err := run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "UTC day to deliver for (default today)")
	return cmd
}

func conflictsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List provider confirmations that contradicted a recorded outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			conflicts, err := repository.NewConflictRepository(a.db).List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list conflicts: %w", err)
			}
			return printJSON(conflicts)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum results")
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
