package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://tunnel.tabgate.localhost/proxy-tunnel.js", cfg.Gateway.ScriptURL())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TABGATE_GATEWAY_PROXY_DOMAIN", "env.example.org")
	t.Setenv("TABGATE_GATEWAY_UPSTREAM_TIMEOUT", "7s")
	t.Setenv("TABGATE_HOST_COMMAND_TIMEOUT", "250ms")
	t.Setenv("TABGATE_LOG_LEVEL", "error")
	t.Setenv("TABGATE_GATEWAY_TUNNEL_ORIGINS", "https://a.test,https://b.test")

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(cfg))

	assert.Equal(t, "env.example.org", cfg.Gateway.ProxyDomain)
	assert.Equal(t, 7*time.Second, cfg.Gateway.UpstreamTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Host.CommandTimeout)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Gateway.TunnelOrigins)

	// unset variables leave defaults alone
	assert.Equal(t, ":8787", cfg.Gateway.Listen)
	assert.True(t, cfg.Gateway.Inject)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.kdl")
	require.NoError(t, os.WriteFile(path, []byte(`gateway { proxy-domain "file.example.org"; listen ":7000" }`), 0644))
	t.Setenv("TABGATE_GATEWAY_LISTEN", ":7001")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file.example.org", cfg.Gateway.ProxyDomain)
	assert.Equal(t, ":7001", cfg.Gateway.Listen)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty domain", func(c *Config) { c.Gateway.ProxyDomain = "" }},
		{"domain with scheme", func(c *Config) { c.Gateway.ProxyDomain = "https://x.test" }},
		{"bad scheme", func(c *Config) { c.Gateway.UpstreamScheme = "ftp" }},
		{"relative debug path", func(c *Config) { c.Gateway.DebugPath = "debug" }},
		{"dotted script subdomain", func(c *Config) { c.Gateway.ScriptSubdomain = "a.b" }},
		{"negative burst", func(c *Config) { c.Gateway.RateBurst = -1 }},
		{"relative local page", func(c *Config) { c.Host.LocalPages["pages/x.html"] = "https://x" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultSettingsPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "tabgate", "settings.json"), DefaultSettingsPath())
}
