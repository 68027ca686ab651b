package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(environ ...string) *loader {
	svc := NewService().(*loader)
	svc.lookupEnv = func() []string { return environ }
	return svc
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskdeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoader_Load(t *testing.T) {
	t.Run("Should load validated defaults", func(t *testing.T) {
		cfg, err := newTestLoader().Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 5001, cfg.Server.Port)
		assert.Equal(t, 30*time.Minute, cfg.Executor.StreamIdleTimeout)
		assert.Equal(t, int64(256), cfg.Executor.MaxConsumers)
		assert.Equal(t, "info", cfg.Runtime.LogLevel)
	})

	t.Run("Should apply YAML over defaults and track the source", func(t *testing.T) {
		path := writeYAML(t, `
executor:
  base_url: http://executor:5172
  stream_idle_timeout: 90s
server:
  port: 8080
`)
		svc := newTestLoader()
		cfg, err := svc.Load(t.Context(), NewYAMLProvider(path))
		require.NoError(t, err)
		assert.Equal(t, "http://executor:5172", cfg.Executor.BaseURL)
		assert.Equal(t, 90*time.Second, cfg.Executor.StreamIdleTimeout)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, SourceYAML, svc.GetSource("server.port"))
		assert.Equal(t, SourceDefault, svc.GetSource("server.host"))
	})

	t.Run("Should let env override YAML and flags override env", func(t *testing.T) {
		path := writeYAML(t, "server:\n  port: 8080\nruntime:\n  log_level: warn\n")
		svc := newTestLoader("SERVER_PORT=9090", "RUNTIME_LOG_LEVEL=error")
		cfg, err := svc.Load(
			t.Context(),
			NewYAMLProvider(path),
			NewEnvProvider(),
			NewCLIProvider(map[string]any{"runtime.log_level": "debug"}),
		)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Runtime.LogLevel)
		assert.Equal(t, SourceEnv, svc.GetSource("server.port"))
		assert.Equal(t, SourceCLI, svc.GetSource("runtime.log_level"))
	})

	t.Run("Should split auth tokens from the environment", func(t *testing.T) {
		svc := newTestLoader("SERVER_AUTH_ENABLED=true", "SERVER_AUTH_TOKENS=abc=org1:user1,def=org2:user2")
		cfg, err := svc.Load(t.Context())
		require.NoError(t, err)
		require.Len(t, cfg.Server.Auth.Tokens, 2)
		assert.Equal(t, "abc=org1:user1", cfg.Server.Auth.Tokens[0].Value())
	})

	t.Run("Should ignore a missing YAML file", func(t *testing.T) {
		_, err := newTestLoader().Load(t.Context(), NewYAMLProvider(filepath.Join(t.TempDir(), "nope.yaml")))
		require.NoError(t, err)
	})

	t.Run("Should reject an invalid executor URL", func(t *testing.T) {
		_, err := newTestLoader("EXECUTOR_BASE_URL=not a url").Load(t.Context())
		require.Error(t, err)
	})

	t.Run("Should reject a half-configured keypair", func(t *testing.T) {
		_, err := newTestLoader("CRYPTO_PUBLIC_KEY=abc").Load(t.Context())
		require.ErrorContains(t, err, "public_key and private_key")
	})

	t.Run("Should reject auth without tokens", func(t *testing.T) {
		_, err := newTestLoader("SERVER_AUTH_ENABLED=true").Load(t.Context())
		require.ErrorContains(t, err, "no tokens")
	})
}

func TestSensitiveString(t *testing.T) {
	t.Run("Should redact on print and JSON", func(t *testing.T) {
		s := SensitiveString("hunter2")
		assert.Equal(t, "[REDACTED]", s.String())
		data, err := json.Marshal(struct{ Secret SensitiveString }{s})
		require.NoError(t, err)
		assert.NotContains(t, string(data), "hunter2")
		assert.Equal(t, "hunter2", s.Value())
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("Should prefer the explicit connection string", func(t *testing.T) {
		cfg := DatabaseConfig{ConnString: "postgres://a@b/c"}
		assert.Equal(t, "postgres://a@b/c", cfg.DSN())
	})
	t.Run("Should build a DSN from components", func(t *testing.T) {
		cfg := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "taskdeck", SSLMode: "disable"}
		assert.Equal(t, "postgres://u:p@db:5432/taskdeck?sslmode=disable", cfg.DSN())
	})
}

func TestFromContext(t *testing.T) {
	t.Run("Should return attached config or defaults", func(t *testing.T) {
		cfg := Default()
		cfg.Server.Port = 1234
		ctx := ContextWithConfig(t.Context(), cfg)
		assert.Equal(t, 1234, FromContext(ctx).Server.Port)
		assert.Equal(t, 5001, FromContext(t.Context()).Server.Port)
	})
}

func TestEnvPaths(t *testing.T) {
	t.Run("Should map env tags to nested koanf paths", func(t *testing.T) {
		paths := envPaths()
		assert.Equal(t, "server.host", paths["SERVER_HOST"])
		assert.Equal(t, "monitoring.enabled", paths["MONITORING_ENABLED"])
		assert.NotContains(t, paths, "")
	})
}
