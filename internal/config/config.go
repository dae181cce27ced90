package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultListenAddr  = ":8080"
	defaultDBPath      = "corrigo.db"
	defaultBlobDir     = "blobs"
	defaultConcurrency = 4
	defaultJobTimeout  = 5 * time.Minute
	defaultStream      = "corrigo:grade-reports"

	envListenAddr    = "CORRIGO_LISTEN_ADDR"
	envDBPath        = "CORRIGO_DB_PATH"
	envBlobDir       = "CORRIGO_BLOB_DIR"
	envLogLevel      = "CORRIGO_LOG_LEVEL"
	envConcurrency   = "CORRIGO_JOB_CONCURRENCY"
	envJobTimeout    = "CORRIGO_JOB_TIMEOUT_S"
	envRedisAddr     = "CORRIGO_REDIS_ADDR"
	envOutcomeStream = "CORRIGO_OUTCOME_STREAM"
	envTasksPath     = "CORRIGO_TASKS_PATH"
	envSessionsPath  = "CORRIGO_SESSIONS_PATH"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr     string
	DBPath         string
	BlobDir        string
	LogLevel       slog.Level
	JobConcurrency int
	JobTimeout     time.Duration
	RedisAddr      string
	OutcomeStream  string
	TasksPath      string
	SessionsPath   string
}

// Load reads configuration from the environment with sensible defaults. A
// .env file in the working directory is folded in first when present.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		BlobDir:        defaultBlobDir,
		LogLevel:       slog.LevelInfo,
		JobConcurrency: defaultConcurrency,
		JobTimeout:     defaultJobTimeout,
		OutcomeStream:  defaultStream,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envBlobDir); v != "" {
		cfg.BlobDir = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envConcurrency); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.JobConcurrency = n
		}
	}
	if v := os.Getenv(envJobTimeout); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.JobTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv(envRedisAddr); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv(envOutcomeStream); v != "" {
		cfg.OutcomeStream = v
	}
	if v := os.Getenv(envTasksPath); v != "" {
		cfg.TasksPath = v
	}
	if v := os.Getenv(envSessionsPath); v != "" {
		cfg.SessionsPath = v
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured
// level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
