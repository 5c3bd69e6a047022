package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "HS256", cfg.SigningAlgorithm)
	require.Equal(t, 30*time.Minute, cfg.TokenValidity)
	require.Equal(t, 5, cfg.RateLimitThreshold)
	require.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	require.NotEmpty(t, cfg.SigningSecret)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GATEHOUSE_ADDR", ":9090")
	t.Setenv("GATEHOUSE_SIGNING_SECRET", "topsecret")
	t.Setenv("GATEHOUSE_TOKEN_VALIDITY_MINUTES", "5")
	t.Setenv("GATEHOUSE_RATE_LIMIT_THRESHOLD", "10")
	t.Setenv("GATEHOUSE_RATE_LIMIT_WINDOW", "90s")
	t.Setenv("GATEHOUSE_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.0/24")

	cfg, err := FromEnv()
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Addr)
	require.Equal(t, "topsecret", cfg.SigningSecret)
	require.Equal(t, 5*time.Minute, cfg.TokenValidity)
	require.Equal(t, 10, cfg.RateLimitThreshold)
	require.Equal(t, 90*time.Second, cfg.RateLimitWindow)
	require.Len(t, cfg.TrustedProxies, 2)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"GATEHOUSE_TOKEN_VALIDITY_MINUTES": "zero",
		"GATEHOUSE_RATE_LIMIT_THRESHOLD":   "-1",
		"GATEHOUSE_RATE_LIMIT_WINDOW":      "soon",
		"GATEHOUSE_TRUSTED_PROXIES":        "not-a-cidr",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := FromEnv()
			require.Error(t, err)
		})
	}
}
