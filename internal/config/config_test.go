package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "env: development\n"))
	require.NoError(t, err)

	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.True(t, cfg.IsDev())
	assert.Contains(t, cfg.DSN, "tcp(127.0.0.1:3306)/mailblog")
	assert.Contains(t, cfg.DSN, "parseTime=true")
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
port: 8080
env: production
base_url: https://blog.example.com/
allowed_origins:
  - blog.example.com
  - "*.example.com"
jwt_secret: topsecret
admin_password: hunter2
database:
  host: db.internal
  port: 3307
  user: blog
  password: pw
  name: blogdb
redis:
  host: cache.internal
  port: 6380
  db: 2
  password: redispw
mail:
  enable: true
  from: noreply@example.com
  smtp:
    host: smtp.example.com
    port: 587
    user: noreply@example.com
    pass: mailpw
  site:
    name: My Blog
    owner: Jane
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.IsDev())
	assert.Equal(t, "https://blog.example.com", cfg.BaseURL, "trailing slash trimmed")
	assert.Equal(t, []string{"blog.example.com", "*.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "topsecret", cfg.JWTSecret)
	assert.Equal(t, "hunter2", cfg.AdminPassword)
	assert.Contains(t, cfg.DSN, "blog:pw@tcp(db.internal:3307)/blogdb")
	assert.Equal(t, "redis://:redispw@cache.internal:6380/2", cfg.RedisURL)
	assert.True(t, cfg.Mail.Enable)
	assert.Equal(t, "My Blog", cfg.Mail.Site.Name)
}

func TestLoadLegacyAliases(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
domain: https://old.example.com
jwtsecret: legacysecret
db_host: legacy.db
db_name: legacydb
redis_host: legacy.cache
`))
	require.NoError(t, err)

	assert.Equal(t, "https://old.example.com", cfg.BaseURL)
	assert.Equal(t, "legacysecret", cfg.JWTSecret)
	assert.Contains(t, cfg.DSN, "tcp(legacy.db:3306)/legacydb")
	assert.Contains(t, cfg.RedisURL, "legacy.cache:6379")
}

func TestLoadExplicitDSNWins(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
dsn: user:pw@tcp(explicit:3306)/explicitdb?parseTime=true
redis_url: redis://explicit:6379/5
database:
  host: ignored.db
`))
	require.NoError(t, err)

	assert.Equal(t, "user:pw@tcp(explicit:3306)/explicitdb?parseTime=true", cfg.DSN)
	assert.Equal(t, "redis://explicit:6379/5", cfg.RedisURL)
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "invalid port", content: "port: 99999\n"},
		{name: "negative redis db", content: "redis:\n  db: -1\n"},
		{name: "unknown field", content: "prot: 8080\n"},
		{name: "not yaml", content: "{{{\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestRedisURLValueTLS(t *testing.T) {
	t.Parallel()

	c := RedisRuntimeConfig{Host: "cache", Port: 6379, TLS: true}
	assert.Equal(t, "rediss://cache:6379/0", c.URLValue())
}
