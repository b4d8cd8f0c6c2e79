package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the client reads from the environment.
// It is loaded once at startup and treated as immutable.
type Config struct {
	// Backend
	APIURL      string
	WSURL       string
	HTTPTimeout time.Duration

	// Local state
	StorageDriver  string
	RedisAddr      string
	StateDSN       string
	StateNamespace string
	CredentialKey  []byte

	// Push channel
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int

	// Discovery
	MatchInterstitial time.Duration

	// Inspection server
	InspectAddr string

	LogLevel slog.Level

	// Optional headless login and static location
	Email     string
	Password  string
	Latitude  *float64
	Longitude *float64
}

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Load reads the Config from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		APIURL:            strings.TrimRight(getEnvString("SPARK_API_URL", "http://localhost:8080"), "/"),
		HTTPTimeout:       getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		StorageDriver:     strings.ToLower(getEnvString("STORAGE_DRIVER", DriverMemory)),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		StateDSN:          os.Getenv("STATE_DSN"),
		StateNamespace:    getEnvString("STATE_NAMESPACE", "default"),
		ReconnectInitial:  getEnvDuration("PUSH_RECONNECT_INITIAL", time.Second),
		ReconnectMax:      getEnvDuration("PUSH_RECONNECT_MAX", 30*time.Second),
		ReconnectAttempts: getEnvInt("PUSH_RECONNECT_ATTEMPTS", 5),
		MatchInterstitial: getEnvDuration("MATCH_INTERSTITIAL", 3*time.Second),
		InspectAddr:       getEnvString("INSPECT_ADDR", ":9090"),
		LogLevel:          getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Email:             os.Getenv("SPARK_EMAIL"),
		Password:          os.Getenv("SPARK_PASSWORD"),
	}

	wsURL := strings.TrimRight(os.Getenv("SPARK_WS_URL"), "/")
	if wsURL == "" {
		derived, err := deriveWSURL(cfg.APIURL)
		if err != nil {
			return nil, err
		}
		wsURL = derived
	}
	cfg.WSURL = wsURL

	switch cfg.StorageDriver {
	case DriverMemory:
	case DriverRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("STORAGE_DRIVER=redis requires REDIS_ADDR")
		}
	case DriverPostgres:
		if cfg.StateDSN == "" {
			return nil, fmt.Errorf("STORAGE_DRIVER=postgres requires STATE_DSN")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if v := os.Getenv("CREDENTIAL_KEY"); v != "" {
		key, err := hex.DecodeString(v)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("CREDENTIAL_KEY must be 64 hex characters")
		}
		cfg.CredentialKey = key
	}

	if cfg.ReconnectAttempts < 0 {
		cfg.ReconnectAttempts = 0
	}

	cfg.Latitude = getEnvFloat("SPARK_LATITUDE")
	cfg.Longitude = getEnvFloat("SPARK_LONGITUDE")
	if (cfg.Latitude == nil) != (cfg.Longitude == nil) {
		return nil, fmt.Errorf("SPARK_LATITUDE and SPARK_LONGITUDE must be set together")
	}

	return cfg, nil
}

func deriveWSURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid SPARK_API_URL %q", apiURL)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvFloat(key string) *float64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return lvl
}
