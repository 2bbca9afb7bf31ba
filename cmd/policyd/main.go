package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/foursyz/policyd/internal/app"
	"github.com/foursyz/policyd/internal/assignment"
	"github.com/foursyz/policyd/internal/evaluator"
	"github.com/foursyz/policyd/internal/lifecycle"
	"github.com/foursyz/policyd/internal/policy"
	"github.com/foursyz/policyd/internal/rbac"
	"github.com/foursyz/policyd/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer container.Close()

	rbacMiddleware := rbac.Middleware{
		Authorizer: container.Evaluator,
		Logger:     logger,
		Enabled:    cfg.AuthzEnabled,
		Bootstrap:  cfg.AuthzBootstrapUsers,
	}
	if !cfg.AuthzEnabled {
		logger.Warn("admin API authorization disabled")
	}

	var jobHandler *jobs.Handler
	if container.Redis != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger, rbacMiddleware)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		RBACMiddleware:    rbacMiddleware,
		PolicyHandler:     policy.NewHandler(logger, container.Policies, rbacMiddleware),
		AssignmentHandler: assignment.NewHandler(logger, container.Assignments, rbacMiddleware),
		EvaluatorHandler:  evaluator.NewHandler(logger, container.Evaluator, rbacMiddleware),
		LifecycleHandler:  lifecycle.NewHandler(logger, container.Lifecycle, rbacMiddleware),
		JobHandler:        jobHandler,
		Metrics:           container.Metrics,
		Ready:             container.Ready,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
