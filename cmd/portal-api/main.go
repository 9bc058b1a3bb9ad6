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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"infraflow/task-portal/task-portal-backend/internal/auth"
	"infraflow/task-portal/task-portal-backend/internal/config"
	"infraflow/task-portal/task-portal-backend/internal/documents"
	"infraflow/task-portal/task-portal-backend/internal/logging"
	"infraflow/task-portal/task-portal-backend/internal/metrics"
	"infraflow/task-portal/task-portal-backend/internal/notifications"
	"infraflow/task-portal/task-portal-backend/internal/notifications/websocket"
	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/internal/workflow"
	"infraflow/task-portal/task-portal-backend/pkg/storage"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging, "portal-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Portal API stopped", zap.Error(err))
	}
	logger.Info("Server exiting")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeDB, err := tasks.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	store, err := openDocumentStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(&metrics.Config{Namespace: "taskportal", Registry: registry})

	var sinks []notifications.Sink
	var wsManager *websocket.Manager
	if cfg.Notifications.Websocket {
		wsManager = websocket.NewManager(logger, cfg.Security.AllowedOrigins...)
		sinks = append(sinks, wsManager)
	}
	awsSinks, err := awsNotificationSinks(ctx, cfg.Notifications, repo, logger)
	if err != nil {
		return err
	}
	sinks = append(sinks, awsSinks...)

	notifier := notifications.NewService(notifications.ServiceConfig{
		QueueSize:       cfg.Notifications.QueueSize,
		Workers:         cfg.Notifications.Workers,
		DeliveryTimeout: cfg.Notifications.DeliveryTimeout,
	}, logger, recorder, sinks...)

	engine := workflow.NewEngine(repo, logger,
		workflow.WithDocumentStore(store),
		workflow.WithNotifier(notifier),
		workflow.WithMetrics(recorder),
	)

	secret := []byte(cfg.Security.JWTSecret)
	if err := bootstrapAdmin(ctx, repo, cfg.Security, logger); err != nil {
		return err
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), cors(cfg.Security.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1", auth.Middleware(secret, repo))
	{
		auth.NewHandler(repo, logger).RegisterRoutes(api)
		workflow.NewHandler(engine, logger).RegisterRoutes(api)
		if wsManager != nil {
			api.GET("/ws", wsManager.Handler())
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// Drain pending notifications before closing the socket hub
		notifier.Close()
		if wsManager != nil {
			wsManager.Close()
		}
		if err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func openDocumentStore(ctx context.Context, cfg config.StorageConfig) (*documents.Store, error) {
	var (
		client storage.ObjectClient
		err    error
	)
	switch cfg.Driver {
	case "s3":
		client, err = storage.NewS3Client(ctx, storage.S3Config{
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    cfg.UsePathStyle,
		})
	default:
		client, err = storage.NewLocalClient(cfg.LocalRoot)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open document storage: %w", err)
	}
	return documents.NewStore(client, cfg.Bucket, cfg.Prefix), nil
}

func awsNotificationSinks(ctx context.Context, cfg config.NotificationsConfig, users notifications.UserLookup, logger *zap.Logger) ([]notifications.Sink, error) {
	if cfg.SNSTopicARN == "" && cfg.SESSender == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	breaker := notifications.BreakerConfig{
		MaxRequests:         cfg.Breaker.MaxRequests,
		Timeout:             cfg.Breaker.Timeout,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
	}
	var sinks []notifications.Sink
	if cfg.SNSTopicARN != "" {
		sinks = append(sinks, notifications.NewSNSPublisher(sns.NewFromConfig(awsCfg), cfg.SNSTopicARN, breaker, logger))
		logger.Info("SNS notifications enabled", zap.String("topic", cfg.SNSTopicARN))
	}
	if cfg.SESSender != "" {
		sinks = append(sinks, notifications.NewEmailChannel(sesv2.NewFromConfig(awsCfg), users, cfg.SESSender, breaker, logger))
		logger.Info("Assignment emails enabled", zap.String("sender", cfg.SESSender))
	}
	return sinks, nil
}

// bootstrapAdmin creates the first SUPER_USER on an empty user table and logs a token for it
func bootstrapAdmin(ctx context.Context, repo tasks.Repository, cfg config.SecurityConfig, logger *zap.Logger) error {
	if cfg.BootstrapAdmin == "" {
		return nil
	}
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	if len(users) > 0 {
		return nil
	}

	admin := &tasks.User{Name: "Administrator", Email: cfg.BootstrapAdmin, Role: workflows.RoleSuperUser}
	if err := repo.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}
	token, err := auth.IssueToken([]byte(cfg.JWTSecret), admin, cfg.TokenTTL)
	if err != nil {
		return err
	}
	logger.Warn("Created bootstrap super user",
		zap.String("user_id", admin.ID.String()),
		zap.String("email", admin.Email),
		zap.String("token", token))
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func cors(allowed []string) gin.HandlerFunc {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if len(origins) == 0 {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
