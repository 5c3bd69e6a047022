package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. It is constructed once at
// startup and passed by reference into the services that need it; nothing
// reads the environment after FromEnv returns.
type Config struct {
	Addr string

	// Token service.
	SigningSecret    string
	SigningAlgorithm string
	TokenValidity    time.Duration

	// Rate limiter.
	RateLimitThreshold int
	RateLimitWindow    time.Duration

	// External stores.
	RedisURL    string
	DatabaseURL string

	// Proxies trusted to set X-Forwarded-For, in CIDR notation.
	TrustedProxies []netip.Prefix
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:               envOr("GATEHOUSE_ADDR", ":8080"),
		SigningSecret:      os.Getenv("GATEHOUSE_SIGNING_SECRET"),
		SigningAlgorithm:   envOr("GATEHOUSE_SIGNING_ALGORITHM", "HS256"),
		TokenValidity:      30 * time.Minute,
		RateLimitThreshold: 5,
		RateLimitWindow:    60 * time.Second,
		RedisURL:           envOr("GATEHOUSE_REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:        os.Getenv("GATEHOUSE_DATABASE_URL"),
	}

	if cfg.SigningSecret == "" {
		// Development default, must be overridden in production.
		cfg.SigningSecret = "dev-secret-key-change-in-production"
	}

	if v := os.Getenv("GATEHOUSE_TOKEN_VALIDITY_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return Config{}, fmt.Errorf("invalid GATEHOUSE_TOKEN_VALIDITY_MINUTES %q", v)
		}
		cfg.TokenValidity = time.Duration(minutes) * time.Minute
	}

	if v := os.Getenv("GATEHOUSE_RATE_LIMIT_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid GATEHOUSE_RATE_LIMIT_THRESHOLD %q", v)
		}
		cfg.RateLimitThreshold = n
	}

	if v := os.Getenv("GATEHOUSE_RATE_LIMIT_WINDOW"); v != "" {
		window, err := time.ParseDuration(v)
		if err != nil || window <= 0 {
			return Config{}, fmt.Errorf("invalid GATEHOUSE_RATE_LIMIT_WINDOW %q", v)
		}
		cfg.RateLimitWindow = window
	}

	if v := os.Getenv("GATEHOUSE_TRUSTED_PROXIES"); v != "" {
		for _, entry := range strings.Split(v, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return Config{}, fmt.Errorf("invalid GATEHOUSE_TRUSTED_PROXIES entry %q: %w", entry, err)
			}
			cfg.TrustedProxies = append(cfg.TrustedProxies, prefix)
		}
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
