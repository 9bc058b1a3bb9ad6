package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Security      SecurityConfig      `json:"security"`
	Storage       StorageConfig       `json:"storage"`
	Notifications NotificationsConfig `json:"notifications"`
	Logging       LoggingConfig       `json:"logging"`
	Sweeper       SweeperConfig       `json:"sweeper"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Mode            string        `json:"mode"` // debug, release, test
}

// DatabaseConfig represents database configuration. Driver "memory" keeps
// everything in process and ignores the connection fields.
type DatabaseConfig struct {
	Driver         string        `json:"driver"` // postgres, memory
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
	AutoMigrate    bool          `json:"auto_migrate"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret      string        `json:"jwt_secret"`
	TokenTTL       time.Duration `json:"token_ttl"`
	BootstrapAdmin string        `json:"bootstrap_admin"` // email of the first SUPER_USER
	AllowedOrigins []string      `json:"allowed_origins"`
}

// StorageConfig selects where uploaded deliverables are kept
type StorageConfig struct {
	Driver          string `json:"driver"` // s3, local
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UsePathStyle    bool   `json:"use_path_style"`
	LocalRoot       string `json:"local_root"`
}

// NotificationsConfig configures the fan-out of committed changes
type NotificationsConfig struct {
	Websocket       bool          `json:"websocket"`
	SNSTopicARN     string        `json:"sns_topic_arn"`
	SESSender       string        `json:"ses_sender"`
	Region          string        `json:"region"`
	QueueSize       int           `json:"queue_size"`
	Workers         int           `json:"workers"`
	DeliveryTimeout time.Duration `json:"delivery_timeout"`
	Breaker         BreakerConfig `json:"breaker"`
}

// BreakerConfig
type BreakerConfig struct {
	MaxRequests         uint32        `json:"max_requests"`
	Timeout             time.Duration `json:"timeout"`
	ConsecutiveFailures uint32        `json:"consecutive_failures"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
	File        string `json:"file"`
	MaxSizeMB   int    `json:"max_size_mb"`
	MaxBackups  int    `json:"max_backups"`
	MaxAgeDays  int    `json:"max_age_days"`
}

// SweeperConfig schedules the idle task report
type SweeperConfig struct {
	Schedule   string        `json:"schedule"`
	IdleAfter  time.Duration `json:"idle_after"`
	HealthPort int           `json:"health_port"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Mode:            "release",
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "task_portal",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
			AutoMigrate:    true,
		},
		Security: SecurityConfig{
			TokenTTL: 12 * time.Hour,
		},
		Storage: StorageConfig{
			Driver:    "local",
			Bucket:    "task-deliverables",
			Region:    "us-east-1",
			LocalRoot: "./data/documents",
		},
		Notifications: NotificationsConfig{
			Websocket:       true,
			Region:          "us-east-1",
			QueueSize:       256,
			Workers:         2,
			DeliveryTimeout: 10 * time.Second,
			Breaker: BreakerConfig{
				MaxRequests:         1,
				Timeout:             30 * time.Second,
				ConsecutiveFailures: 3,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Sweeper: SweeperConfig{
			Schedule:   "@every 15m",
			IdleAfter:  72 * time.Hour,
			HealthPort: 8081,
		},
	}
}

// LoadConfig loads configuration from file and environment variables. A
// missing file is not an error; a malformed one is.
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("SERVER_HOST", &config.Server.Host)
	num("SERVER_PORT", &config.Server.Port)
	str("GIN_MODE", &config.Server.Mode)

	str("DATABASE_DRIVER", &config.Database.Driver)
	str("DATABASE_HOST", &config.Database.Host)
	num("DATABASE_PORT", &config.Database.Port)
	str("DATABASE_USER", &config.Database.User)
	str("DATABASE_PASSWORD", &config.Database.Password)
	str("DATABASE_DBNAME", &config.Database.DBName)
	str("DATABASE_SSLMODE", &config.Database.SSLMode)

	str("JWT_SECRET", &config.Security.JWTSecret)
	dur("JWT_TTL", &config.Security.TokenTTL)
	str("BOOTSTRAP_ADMIN", &config.Security.BootstrapAdmin)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		config.Security.AllowedOrigins = strings.Split(v, ",")
	}

	str("STORAGE_DRIVER", &config.Storage.Driver)
	str("STORAGE_BUCKET", &config.Storage.Bucket)
	str("STORAGE_PREFIX", &config.Storage.Prefix)
	str("STORAGE_REGION", &config.Storage.Region)
	str("STORAGE_ENDPOINT", &config.Storage.Endpoint)
	str("STORAGE_LOCAL_ROOT", &config.Storage.LocalRoot)
	str("AWS_ACCESS_KEY_ID", &config.Storage.AccessKeyID)
	str("AWS_SECRET_ACCESS_KEY", &config.Storage.SecretAccessKey)

	str("NOTIFY_SNS_TOPIC_ARN", &config.Notifications.SNSTopicARN)
	str("NOTIFY_SES_SENDER", &config.Notifications.SESSender)
	str("NOTIFY_REGION", &config.Notifications.Region)

	str("LOG_LEVEL", &config.Logging.Level)
	str("LOG_FILE", &config.Logging.File)

	str("SWEEPER_SCHEDULE", &config.Sweeper.Schedule)
	dur("SWEEPER_IDLE_AFTER", &config.Sweeper.IdleAfter)
	num("SWEEPER_HEALTH_PORT", &config.Sweeper.HealthPort)

	return errors.Join(errs...)
}

// Validate checks the settings the process cannot start without
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver))
	}
	switch c.Storage.Driver {
	case "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for the s3 driver"))
		}
	case "local":
		if c.Storage.LocalRoot == "" {
			errs = append(errs, errors.New("storage.local_root is required for the local driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be s3 or local, got %q", c.Storage.Driver))
	}
	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("security.jwt_secret (JWT_SECRET) is required"))
	}
	return errors.Join(errs...)
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
