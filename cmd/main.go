package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storefront-cart-service/internal/config"
	"storefront-cart-service/internal/logging"
)

const defaultAppName = "StorefrontCartService"

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "storefront-cart",
	Short: "Storefront cart service",
	Long: `Keeps each storefront device's shopping cart consistent between the backend
cart API, a local snapshot store and the session that owns it.

Run without a subcommand to start the HTTP and gRPC servers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintln(os.Stderr, "INFO: .env file not found, relying on system environment variables.")
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.LogLevel, cfg.AppEnv)
		if err != nil {
			return err
		}
		logger.Info("configuration loaded",
			zap.String("app_env", cfg.AppEnv),
			zap.String("storage_driver", cfg.Storage.Driver),
			zap.String("backend", cfg.Backend.BaseURL))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
