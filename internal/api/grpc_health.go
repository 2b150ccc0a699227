package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"storefront-cart-service/internal/store"
)

// CartServiceName is the service name reported over the gRPC health protocol.
const CartServiceName = "storefront.cart.v1.CartService"

// HealthReporter keeps the gRPC health status in step with the snapshot store.
type HealthReporter struct {
	server   *health.Server
	pinger   store.Pinger
	interval time.Duration
	logger   *zap.Logger
}

// NewHealthReporter creates a reporter that starts out NOT_SERVING until the first check.
func NewHealthReporter(pinger store.Pinger, interval time.Duration, logger *zap.Logger) *HealthReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(CartServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{
		server:   srv,
		pinger:   pinger,
		interval: interval,
		logger:   logger.Named("health"),
	}
}

// Server returns the health service to register on a grpc.Server.
func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// Check pings the store once and publishes the result.
func (h *HealthReporter) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.pinger.PingContext(ctx); err != nil {
		h.logger.Warn("snapshot store ping failed", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(CartServiceName, status)
	return status
}

// Run checks on every interval until ctx is done, then marks everything NOT_SERVING.
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}
