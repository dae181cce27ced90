package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envListenAddr, "")
	t.Setenv(envDBPath, "")
	t.Setenv(envLogLevel, "")
	t.Setenv(envConcurrency, "")
	t.Setenv(envJobTimeout, "")

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.JobConcurrency != defaultConcurrency {
		t.Errorf("JobConcurrency = %d, want %d", cfg.JobConcurrency, defaultConcurrency)
	}
	if cfg.JobTimeout != defaultJobTimeout {
		t.Errorf("JobTimeout = %v, want %v", cfg.JobTimeout, defaultJobTimeout)
	}
	if cfg.OutcomeStream != defaultStream {
		t.Errorf("OutcomeStream = %q, want %q", cfg.OutcomeStream, defaultStream)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envConcurrency, "8")
	t.Setenv(envJobTimeout, "120")
	t.Setenv(envRedisAddr, "localhost:6379")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.JobConcurrency != 8 {
		t.Errorf("JobConcurrency = %d, want 8", cfg.JobConcurrency)
	}
	if cfg.JobTimeout != 2*time.Minute {
		t.Errorf("JobTimeout = %v, want 2m", cfg.JobTimeout)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q, want localhost:6379", cfg.RedisAddr)
	}
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv(envConcurrency, "not-a-number")
	t.Setenv(envJobTimeout, "-5")

	cfg := Load()

	if cfg.JobConcurrency != defaultConcurrency {
		t.Errorf("JobConcurrency = %d, want default %d", cfg.JobConcurrency, defaultConcurrency)
	}
	if cfg.JobTimeout != defaultJobTimeout {
		t.Errorf("JobTimeout = %v, want default %v", cfg.JobTimeout, defaultJobTimeout)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("hello", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want value", entry["key"])
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("info line written at warn level: %s", buf.String())
	}

	logger.Warn("visible")
	if buf.Len() == 0 {
		t.Error("warn line not written")
	}
}
