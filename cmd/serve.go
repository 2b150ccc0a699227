package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"storefront-cart-service/internal/api"
	"storefront-cart-service/internal/backend"
	"storefront-cart-service/internal/cart"
	"storefront-cart-service/internal/pricing"
	"storefront-cart-service/internal/store"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers (default)",
	RunE:  runServe,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().BoolVar(&autoMigrate, "migrate", true, "create the snapshot schema on startup")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// --- Snapshot store ---
	driver, dsn := cfg.StorageDSN()
	snapshots, err := store.Open(ctx, driver, dsn, logger)
	if err != nil {
		return err
	}
	if autoMigrate {
		if err := snapshots.Migrate(ctx); err != nil {
			snapshots.Close()
			return err
		}
	}
	logger.Info("snapshot store ready", zap.String("driver", driver))

	// --- Cart wiring ---
	cartClient := backend.NewCartClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, logger)
	taxes := pricing.NewTaxResolver(cfg.Backend.TaxBaseURL, cfg.Backend.TaxTimeout, logger)
	registry := cart.NewRegistry(cartClient, snapshots, taxes, logger, cart.WithMaxCarts(cfg.Carts.MaxDevices))
	httpAPIHandler := api.NewHTTPHandler(api.NewRegistryProvider(registry), logger)

	// --- Setup & Start HTTP Server ---
	httpRouter := chi.NewRouter()
	setupBaseMiddleware(httpRouter)
	registerHealthCheck(httpRouter, snapshots)
	httpAPIHandler.RegisterRoutes(httpRouter)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HttpServer.Port,
		Handler:      httpRouter,
		ReadTimeout:  cfg.HttpServer.TimeoutRead,
		WriteTimeout: cfg.HttpServer.TimeoutWrite,
		IdleTimeout:  cfg.HttpServer.TimeoutIdle,
	}

	serveErr := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.HttpServer.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server ListenAndServe error: %w", err)
		}
	}()

	// --- Setup & Start gRPC Server ---
	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	reporter := api.NewHealthReporter(snapshots, cfg.GrpcServer.HealthInterval, logger)
	grpcServer := setupGRPCServer(reporter)
	go reporter.Run(healthCtx)

	grpcListener, err := net.Listen("tcp", ":"+cfg.GrpcServer.Port)
	if err != nil {
		httpServer.Close()
		snapshots.Close()
		return fmt.Errorf("failed to listen for gRPC on port %s: %w", cfg.GrpcServer.Port, err)
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("port", cfg.GrpcServer.Port))
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErr <- fmt.Errorf("gRPC server Serve error: %w", err)
		}
	}()

	// --- Graceful Shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received signal, starting graceful shutdown", zap.String("signal", sig.String()))
	case runErr = <-serveErr:
		logger.Error("server failed, shutting down", zap.Error(runErr))
	}

	stopHealth()
	shutdown(httpServer, grpcServer, registry, snapshots)
	return runErr
}

func setupBaseMiddleware(router *chi.Mux) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
}

// requestLogger is chi's middleware.Logger rendered through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("device_id", ww.Header().Get(api.DeviceIDHeader)))
		}()
		next.ServeHTTP(ww, r)
	})
}

func registerHealthCheck(router *chi.Mux, pinger store.Pinger) {
	healthPath := "/api/v1/healthz"
	router.Get(healthPath, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		dbStatus := "healthy"
		if err := pinger.PingContext(ctx); err != nil {
			dbStatus = "unhealthy"
			logger.Warn("health check DB ping failed", zap.Error(err))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK) // Always 200, the payload carries the detail
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "healthy",
			"serviceName": defaultAppName,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"database":    dbStatus,
		})
	})
}

func setupGRPCServer(reporter *api.HealthReporter) *grpc.Server {
	s := grpc.NewServer()

	healthpb.RegisterHealthServer(s, reporter.Server())
	reflection.Register(s)
	logger.Info("gRPC health and reflection services registered", zap.String("service", api.CartServiceName))
	return s
}

func shutdown(httpServer *http.Server, grpcServer *grpc.Server, registry *cart.Registry, snapshots *store.SQLStore) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stoppedGrpc := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedGrpc)
	}()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		logger.Info("HTTP server gracefully shut down")
	}

	select {
	case <-stoppedGrpc:
		logger.Info("gRPC server gracefully shut down")
	case <-shutdownCtx.Done():
		logger.Warn("gRPC server graceful shutdown timed out, forcing stop", zap.Error(shutdownCtx.Err()))
		grpcServer.Stop()
	}

	// Background tax lookups still write snapshots, so drain them before closing the store.
	registry.Close()
	if err := snapshots.Close(); err != nil {
		logger.Warn("error closing snapshot store", zap.Error(err))
	}
	logger.Info("graceful shutdown sequence completed")
}
