package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendBolt      = "bolt"
	BackendFirestore = "firestore"
)

type Config struct {
	DBFile      string
	AdminAddr   string
	APIAddr     string
	BaseURL     string
	UploadsPath string
	TokenExpiry time.Duration
	LogLevel    slog.Level

	StorageBackend string
	GCPProject     string

	GatewayURL          string
	GatewayToken        string
	GatewayCountryCodes []string
	GatewayRate         float64

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first without overriding real variables.
func Load(cliMode bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_EXPIRY: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	rate, err := strconv.ParseFloat(getEnv("GATEWAY_RATE", "0"), 64)
	if err != nil {
		return nil, fmt.Errorf("GATEWAY_RATE: %w", err)
	}

	cfg := &Config{
		DBFile:      getEnv("PORTAL_DB", "portalchat.db"),
		AdminAddr:   getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:     getEnv("API_ADDR", ":8080"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		UploadsPath: getEnv("UPLOADS_PATH", "uploads"),
		TokenExpiry: tokenExpiry,
		LogLevel:    level,

		StorageBackend: getEnv("PORTAL_STORAGE_BACKEND", BackendBolt),
		GCPProject:     os.Getenv("GCP_PROJECT"),

		GatewayURL:          os.Getenv("GATEWAY_URL"),
		GatewayToken:        os.Getenv("GATEWAY_TOKEN"),
		GatewayCountryCodes: splitList(os.Getenv("GATEWAY_COUNTRY_CODES")),
		GatewayRate:         rate,

		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    os.Getenv("VAPID_SUBJECT"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	// The CLI only talks to the admin API.
	if cliMode {
		return nil
	}

	switch c.StorageBackend {
	case BackendBolt:
	case BackendFirestore:
		if c.GCPProject == "" {
			return fmt.Errorf("GCP_PROJECT is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown PORTAL_STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.GatewayRate < 0 {
		return fmt.Errorf("GATEWAY_RATE must not be negative")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}
	if c.PushEnabled() && c.VAPIDSubject == "" {
		return fmt.Errorf("VAPID_SUBJECT is required when push is enabled")
	}

	return nil
}

// GatewayEnabled reports whether outbound messaging is configured.
func (c *Config) GatewayEnabled() bool {
	return c.GatewayURL != ""
}

// PushEnabled reports whether Web Push keys are configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
