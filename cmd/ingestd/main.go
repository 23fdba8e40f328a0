package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/research-ingest/internal/app"
	"github.com/joseph-ayodele/research-ingest/internal/auth"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/repository"
	"github.com/joseph-ayodele/research-ingest/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	v := common.NewViper()
	if err := common.ReadConfigFile(v, *configPath); err != nil {
		slog.Error("failed to read config", "error", err)
		os.Exit(1)
	}
	cfg := common.LoadConfig(v)

	logger, err := common.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		slog.Error("invalid log config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := cfg.ValidateServer(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if cfg.LLM.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		logger.Warn("OPENAI_API_KEY not set; data_extraction and full_analysis will fail with AIProviderError")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	tokens, err := auth.NewTokens([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	a.RunBackground(bgCtx)

	srv := server.New(server.Deps{
		Dispatcher:  a.Dispatcher,
		Retry:       a.Retry,
		Projects:    a.Service,
		Documents:   a.Documents,
		Blobs:       a.Blobs,
		Export:      a.Export,
		Topic:       a.Topic,
		Tokens:      tokens,
		MaxFileSize: cfg.Policy.MaxFileSize,
		Health: func(r *http.Request) error {
			return repository.HealthCheck(r.Context(), a.DB, 2*time.Second, logger)
		},
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	// gRPC health for orchestrators
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC serve error", "error", err)
			}
		}()
		logger.Info("health service listening", "addr", cfg.Server.GRPCAddr)
	}

	go func() {
		logger.Info("research-ingest listening", "addr", cfg.Server.HTTPAddr, "driver", a.DB.Dialect)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// SSE streams end when the topic closes
	a.Topic.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	cancelBg()
	grpcServer.GracefulStop()
	logger.Info("stopped")
}
