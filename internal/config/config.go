// Package config assembles daemon configuration from the environment, with
// an optional YAML file overlay selected by PFVERIFY_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string
	DatabaseDSN string
	LogLevel    string

	PolicyPath   string
	PolicyEngine string
	KeySetPath   string

	SignatureThreshold  int
	RequireTransparency bool

	AdminAPIKey string

	VerdictCacheTTLSeconds int

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// fileConfig is the YAML overlay. Environment variables win over file
// values; file values win over defaults.
type fileConfig struct {
	HTTPAddr            string `yaml:"http_addr"`
	DatabaseDSN         string `yaml:"database_dsn"`
	LogLevel            string `yaml:"log_level"`
	PolicyPath          string `yaml:"policy_path"`
	PolicyEngine        string `yaml:"policy_engine"`
	KeySetPath          string `yaml:"key_set_path"`
	SignatureThreshold  int    `yaml:"signature_threshold"`
	RequireTransparency *bool  `yaml:"require_transparency"`
	RedisAddr           string `yaml:"redis_addr"`
}

func FromEnv() (Config, error) {
	var file fileConfig
	if path := os.Getenv("PFVERIFY_CONFIG"); path != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(payload, &file); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
	}

	requireTransparency := false
	if file.RequireTransparency != nil {
		requireTransparency = *file.RequireTransparency
	}

	cfg := Config{
		HTTPAddr:               envDefault("HTTP_ADDR", fallback(file.HTTPAddr, ":8080")),
		DatabaseDSN:            envDefault("DATABASE_DSN", file.DatabaseDSN),
		LogLevel:               envDefault("LOG_LEVEL", fallback(file.LogLevel, "info")),
		PolicyPath:             envDefault("PFVERIFY_POLICY", file.PolicyPath),
		PolicyEngine:           envDefault("POLICY_ENGINE", fallback(file.PolicyEngine, "native")),
		KeySetPath:             envDefault("PFVERIFY_KEYS", file.KeySetPath),
		SignatureThreshold:     envIntDefault("PFVERIFY_THRESHOLD", fallbackInt(file.SignatureThreshold, 1)),
		RequireTransparency:    envBoolDefault("PFVERIFY_REQUIRE_TRANSPARENCY", requireTransparency),
		AdminAPIKey:            os.Getenv("ADMIN_API_KEY"),
		VerdictCacheTTLSeconds: envIntDefault("VERDICT_CACHE_TTL_SECONDS", 300),
		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:    envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:              envDefault("REDIS_ADDR", file.RedisAddr),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntDefault("REDIS_DB", 0),
	}
	switch cfg.PolicyEngine {
	case "native", "rego":
	default:
		return Config{}, fmt.Errorf("unknown policy engine %q", cfg.PolicyEngine)
	}
	return cfg, nil
}

func (c Config) VerdictCacheTTL() time.Duration {
	if c.VerdictCacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.VerdictCacheTTLSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func fallbackInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
