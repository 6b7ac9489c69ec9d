package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	API       APIConfig
	Extractor ExtractorConfig
	Download  DownloadConfig
	LogLevel  string
}

type ServerConfig struct {
	Port              string
	Host              string
	Mode              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

type APIConfig struct {
	APIKey            string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitStore    string
	RedisURL          string
	MaxRequestBody    int64
}

type ExtractorConfig struct {
	Backend        string
	YtDlpPath      string
	FFmpegPath     string
	CookiesFile    string
	ResolveTimeout time.Duration
	MaxConcurrent  int
	MaxFileSize    int64
}

type DownloadConfig struct {
	MaxFileSize    int64
	ChunkSize      int
	BufferedChunks int
	StartTimeout   time.Duration
	IdleTimeout    time.Duration
}

const (
	BackendYtDlp  = "ytdlp"
	BackendNative = "native"

	StoreMemory = "memory"
	StoreRedis  = "redis"
)

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	cfg := &Config{}
	var err error

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	// Server configuration
	cfg.Server.Port = getEnv("SERVER_PORT", getEnv("PORT", "3000"))
	cfg.Server.Host = getEnv("SERVER_HOST", "0.0.0.0")
	cfg.Server.Mode = getEnv("GIN_MODE", "")
	if cfg.Server.ReadHeaderTimeout, err = getEnvDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.ShutdownTimeout, err = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	// API configuration
	if cfg.API.APIKey, err = getEnvRequired("API_KEY"); err != nil {
		return nil, err
	}
	cfg.API.RateLimitRequests = getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100)
	if cfg.API.RateLimitWindow, err = parseWindow(getEnv("RATE_LIMIT_WINDOW", "15")); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}
	cfg.API.RateLimitStore = strings.ToLower(getEnv("RATE_LIMIT_STORE", StoreMemory))
	cfg.API.RedisURL = getEnv("REDIS_URL", "redis://localhost:6379/0")
	cfg.API.MaxRequestBody = getEnvInt64("MAX_REQUEST_BODY", 1<<20)

	// Download configuration
	cfg.Download.MaxFileSize = getEnvInt64("MAX_FILE_SIZE", 104857600) // 100MB default
	cfg.Download.ChunkSize = getEnvInt("DOWNLOAD_CHUNK_SIZE", 64*1024)
	cfg.Download.BufferedChunks = getEnvInt("DOWNLOAD_BUFFERED_CHUNKS", 4)
	if cfg.Download.StartTimeout, err = getEnvDuration("DOWNLOAD_START_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Download.IdleTimeout, err = getEnvDuration("DOWNLOAD_IDLE_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}

	// Extractor configuration
	cfg.Extractor.Backend = strings.ToLower(getEnv("EXTRACTOR_BACKEND", BackendYtDlp))
	cfg.Extractor.YtDlpPath = getEnv("YTDLP_PATH", "yt-dlp")
	cfg.Extractor.FFmpegPath = getEnv("FFMPEG_PATH", "ffmpeg")
	cfg.Extractor.CookiesFile = getEnv("YTDLP_COOKIES_FILE", "")
	if cfg.Extractor.ResolveTimeout, err = getEnvDuration("EXTRACTOR_RESOLVE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	cfg.Extractor.MaxConcurrent = getEnvInt("EXTRACTOR_MAX_CONCURRENT", 4)
	cfg.Extractor.MaxFileSize = cfg.Download.MaxFileSize

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Extractor.Backend {
	case BackendYtDlp, BackendNative:
	default:
		return fmt.Errorf("invalid EXTRACTOR_BACKEND %q (want %s or %s)", c.Extractor.Backend, BackendYtDlp, BackendNative)
	}

	switch c.API.RateLimitStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("invalid RATE_LIMIT_STORE %q (want %s or %s)", c.API.RateLimitStore, StoreMemory, StoreRedis)
	}

	if c.API.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive, got %d", c.API.RateLimitRequests)
	}
	if c.Download.ChunkSize <= 0 || c.Download.BufferedChunks <= 0 {
		return fmt.Errorf("DOWNLOAD_CHUNK_SIZE and DOWNLOAD_BUFFERED_CHUNKS must be positive")
	}
	if c.Extractor.ResolveTimeout <= 0 {
		return fmt.Errorf("EXTRACTOR_RESOLVE_TIMEOUT must be positive, got %s", c.Extractor.ResolveTimeout)
	}
	if c.Extractor.MaxConcurrent <= 0 {
		return fmt.Errorf("EXTRACTOR_MAX_CONCURRENT must be positive, got %d", c.Extractor.MaxConcurrent)
	}

	return nil
}

// parseWindow accepts whole minutes ("15") or a Go duration ("90s").
func parseWindow(value string) (time.Duration, error) {
	if minutes, err := strconv.Atoi(value); err == nil {
		if minutes <= 0 {
			return 0, fmt.Errorf("window must be positive, got %d", minutes)
		}
		return time.Duration(minutes) * time.Minute, nil
	}

	window, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive, got %s", window)
	}
	return window, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
