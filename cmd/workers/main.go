package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"infraflow/task-portal/task-portal-backend/internal/config"
	"infraflow/task-portal/task-portal-backend/internal/logging"
	"infraflow/task-portal/task-portal-backend/internal/metrics"
	"infraflow/task-portal/task-portal-backend/internal/sweeper"
	"infraflow/task-portal/task-portal-backend/internal/tasks"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging, "task-sweeper")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Sweeper stopped", zap.Error(err))
	}
	logger.Info("Sweeper exiting")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeDB, err := tasks.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(&metrics.Config{Namespace: "taskportal", Registry: registry})

	sw := sweeper.New(repo, recorder, cfg.Sweeper.IdleAfter, logger)
	if err := sw.Start(ctx, cfg.Sweeper.Schedule); err != nil {
		return err
	}
	logger.Info("Starting stale task sweeper",
		zap.String("schedule", cfg.Sweeper.Schedule),
		zap.Duration("idle_after", cfg.Sweeper.IdleAfter))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/sweeps/last", func(c *gin.Context) {
		report := sw.LastReport()
		if report == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no sweep has finished yet"})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Sweeper.HealthPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sw.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
