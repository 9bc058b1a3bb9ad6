package tasks

import (
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"infraflow/task-portal/task-portal-backend/internal/config"
)

// Open returns the repository selected by cfg.Driver and a function that
// releases its connections.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (Repository, func() error, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory task repository; data is lost on restart")
		return NewMemoryRepository(), func() error { return nil }, nil
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        cfg.GetDatabaseURL(),
	}), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
	}

	logger.Info("Connected to database",
		zap.String("host", cfg.Host),
		zap.String("db", cfg.DBName))
	return NewPostgresRepository(db), sqlDB.Close, nil
}
