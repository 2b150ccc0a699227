package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storefront-cart-service/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the cart snapshot schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, dsn := cfg.StorageDSN()
		snapshots, err := store.Open(cmd.Context(), driver, dsn, logger)
		if err != nil {
			return err
		}
		defer snapshots.Close()

		if err := snapshots.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("snapshot schema is up to date", zap.String("driver", driver))
		return nil
	},
}
