package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN": "postgres://localhost/donatrack",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.EqualValues(t, 20, cfg.DBMaxConns)
	assert.Equal(t, 15*time.Second, cfg.DBStatementTimeout)
	assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.AllowedOrigins)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.False(t, cfg.S3.Enabled())
	assert.True(t, cfg.S3.ForcePathStyle)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN":                "postgres://localhost/donatrack",
		"TIMEZONE":              "Asia/Kolkata",
		"CORS_ALLOWED_ORIGINS":  "https://a.example,https://b.example",
		"SMTP_HOST":             "smtp.example.org",
		"SMTP_PORT":             "2525",
		"S3_ENDPOINT":           "minio:9000",
		"S3_DISABLE_TLS":        "true",
		"REPORT_AGE_RECIPIENTS": "age1a,age1b",
	}))
	require.NoError(t, err)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", loc.String())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "smtp.example.org", cfg.SMTP.Host)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.True(t, cfg.S3.Enabled())
	assert.True(t, cfg.S3.DisableTLS)
	assert.Equal(t, []string{"age1a", "age1b"}, cfg.ReportRecipients)
}

func TestLoadFromErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing dsn", env: map[string]string{}},
		{name: "bad timezone", env: map[string]string{"DB_DSN": "x", "TIMEZONE": "Mars/Olympus"}},
		{name: "zero pool", env: map[string]string{"DB_DSN": "x", "DB_MAX_CONNS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(context.Background(), envconfig.MapLookuper(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestRequireAPI(t *testing.T) {
	cfg := Config{TokenSigningKey: "short", RateLimitPerMinute: 10}
	assert.Error(t, cfg.RequireAPI())

	cfg.TokenSigningKey = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.RequireAPI())
}
