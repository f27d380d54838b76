package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the configuration for the proxy.
type Config struct {
	// HTTP server configuration
	Host      string
	Port      int
	CertFile  string
	KeyFile   string
	AssetsDir string

	// Gemini configuration
	GeminiAPIKey string
	Model        string

	// Drain timeout applied to live connections on shutdown
	DrainTimeout time.Duration
}

// Load loads configuration from environment variables and flags.
func Load() (*Config, error) {
	cfg := &Config{}

	// Set defaults
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080
	cfg.AssetsDir = "assets"
	cfg.Model = "gemini-2.0-flash-exp"
	cfg.DrainTimeout = 10 * time.Second

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	// Load from environment
	cfg.Host = getEnv("RTPROXY_HOST", cfg.Host)
	cfg.CertFile = getEnv("RTPROXY_CERT_FILE", cfg.CertFile)
	cfg.KeyFile = getEnv("RTPROXY_KEY_FILE", cfg.KeyFile)
	cfg.AssetsDir = getEnv("RTPROXY_ASSETS_DIR", cfg.AssetsDir)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", "")
	cfg.Model = getEnv("GEMINI_MODEL", cfg.Model)

	if portStr := getEnv("RTPROXY_PORT", ""); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 {
			return nil, fmt.Errorf("invalid RTPROXY_PORT: %q", portStr)
		}
		cfg.Port = port
	}

	if drainStr := getEnv("RTPROXY_DRAIN_TIMEOUT", ""); drainStr != "" {
		if d, err := time.ParseDuration(drainStr); err == nil {
			cfg.DrainTimeout = d
		}
	}

	// Override with flags
	flag.StringVar(&cfg.Host, "host", cfg.Host, "HTTP listen host")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	flag.StringVar(&cfg.CertFile, "cert-file", cfg.CertFile, "TLS certificate file (enables TLS)")
	flag.StringVar(&cfg.KeyFile, "key-file", cfg.KeyFile, "TLS key file")
	flag.StringVar(&cfg.AssetsDir, "assets-dir", cfg.AssetsDir, "Static assets directory")
	flag.StringVar(&cfg.Model, "model", cfg.Model, "Gemini model for live sessions")
	flag.DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "Shutdown drain timeout")
	flag.Parse()

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.CertFile != "" && cfg.KeyFile == "" {
		return nil, fmt.Errorf("cert-file set without key-file")
	}

	return cfg, nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
