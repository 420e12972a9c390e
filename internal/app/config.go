package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	DownloadDir      string
	MetadataCacheDir string
	KeepFiles        bool
	ListenPort       int
	Seed             bool
	DisableDHT       bool
	PieceWait        time.Duration
	MetadataWait     time.Duration
	NetworkCaching   time.Duration
	RateLimitRPS     float64 // 0 = unlimited
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		DownloadDir:      getEnv("DOWNLOAD_DIR", "data"),
		MetadataCacheDir: getEnv("METADATA_CACHE_DIR", "cache"),
		KeepFiles:        getEnvBool("KEEP_FILES", false),
		ListenPort:       int(getEnvInt64("LISTEN_PORT", 0)),
		Seed:             getEnvBool("SEED", true),
		DisableDHT:       getEnvBool("DISABLE_DHT", false),
		PieceWait:        time.Duration(getEnvInt64("PIECE_WAIT_TIMEOUT_S", 60)) * time.Second,
		MetadataWait:     time.Duration(getEnvInt64("METADATA_WAIT_TIMEOUT_S", 300)) * time.Second,
		NetworkCaching:   time.Duration(getEnvInt64("NETWORK_CACHING_MS", 0)) * time.Millisecond,
		RateLimitRPS:     float64(getEnvInt64("HTTP_RATE_LIMIT_RPS", 0)),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
