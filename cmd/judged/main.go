package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"judged/internal/audit"
	"judged/internal/config"
	"judged/internal/logger"
	"judged/internal/registry"
	"judged/internal/sandbox"
	"judged/internal/stagerunner"
	"judged/internal/transport/ws"
)

const defaultShutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	reg, err := registry.LoadFile(cfg.CatalogPath)
	if err != nil {
		logger.Warn(context.Background(), "load runtime catalog failed, starting with an empty registry",
			zap.String("catalog_path", cfg.CatalogPath), zap.Error(err))
		reg = registry.New()
	}

	prov := sandbox.NewProvisioner(sandbox.Config{
		ScratchRoot:       cfg.ScratchRoot,
		CgroupRoot:        cfg.CgroupRoot,
		EnableCgroup:      cfg.EnableNamespaces,
		PoolSize:          cfg.MaxConcurrentJobs,
		DisableNetworking: cfg.DisableNetworking,
	})

	seccompProfile := ""
	if cfg.EnableSeccomp {
		seccompProfile = cfg.SeccompDir
	}
	runner := stagerunner.NewRunner(stagerunner.Config{
		HelperPath:       cfg.HelperPath,
		OutputCapByte:    cfg.OutputMaxSize,
		EnableNamespaces: cfg.EnableNamespaces,
		Isolation: sandbox.IsolationProfile{
			SeccompProfile: seccompProfile,
			DisableNetwork: cfg.DisableNetworking,
		},
	})

	auditSink, err := audit.Open(context.Background(), cfg.AuditMySQLDSN)
	if err != nil {
		logger.Error(context.Background(), "open audit sink failed", zap.Error(err))
		return
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: ws.New(cfg, reg, prov, runner, auditSink).Router(),
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judged http server started", zap.String("addr", cfg.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}
