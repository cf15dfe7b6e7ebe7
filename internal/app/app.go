package app

import (
	"context"
	"errors"
	"net"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordersync/internal/health"
	"github.com/vladislavdragonenkov/ordersync/internal/service/syncer"
	"github.com/vladislavdragonenkov/ordersync/internal/version"
)

// HealthServiceName: имя сервиса в grpc.health.v1, статус которого следует за последним запуском.
const HealthServiceName = "ordersync"

// Run запускает демон: периодическую синхронизацию, служебный HTTP и gRPC health.
// Возвращает ctx.Err() после остановки по сигналу.
func Run(ctx context.Context, rt *Runtime) error {
	cfg := rt.Config()
	logger := rt.logger

	ops, err := rt.OpenStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := ops.Close(); err != nil {
			logger.WithError(err).Warn("failed to close ops storage")
		}
	}()

	grpcMetrics := promgrpc.NewServerMetrics()
	if err := rt.registerer.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", ops.Ping))
	healthHandler.RegisterChecker("sync", healthcheck.NewSyncChecker(ops.History, cfg.Sync.HealthMaxAge))

	var gatherer prometheus.Gatherer
	if g, ok := rt.registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}
	opsSrv := startOpsServer(ctx, cfg.Server.MetricsAddr, newOpsRouter(healthHandler, ops, gatherer, logger), logger)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		shutdownHTTP(opsSrv, logger)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC health server listening on %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	scheduler := syncer.NewScheduler(
		func(ctx context.Context) (domain.SyncReport, error) {
			return rt.Sync(ctx, syncer.RunOptions{})
		},
		syncer.WithInterval(cfg.Sync.Interval),
		syncer.WithLogger(logger.WithField("component", "sync-scheduler")),
		syncer.WithReportHook(servingStatusHook(healthServer)),
	)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(runCtx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping daemon")
		healthServer.Shutdown()
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(5 * time.Second):
			logger.Warn("graceful stop timed out, forcing grpc server stop")
			grpcServer.Stop()
		}
		shutdownHTTP(opsSrv, logger)
		<-schedulerDone
		return ctx.Err()
	case err := <-errCh:
		cancelRuns()
		shutdownHTTP(opsSrv, logger)
		<-schedulerDone
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// servingStatusHook переключает gRPC health по итогу каждого запуска.
func servingStatusHook(healthServer *health.Server) func(domain.SyncReport, error) {
	return func(_ domain.SyncReport, err error) {
		switch {
		case err == nil:
			healthServer.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_SERVING)
		case errors.Is(err, domain.ErrSyncAlreadyRunning), errors.Is(err, context.Canceled):
		default:
			healthServer.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		}
	}
}
