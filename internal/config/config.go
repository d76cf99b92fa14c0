// Package config contains configuration types for tabgate.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment override, e.g.
// TABGATE_GATEWAY_PROXY_DOMAIN.
const EnvPrefix = "TABGATE"

// Config holds the complete tabgate configuration.
type Config struct {
	Gateway GatewayConfig
	Host    HostConfig
	Log     LogConfig
}

// GatewayConfig configures the reverse proxy gateway.
type GatewayConfig struct {
	// Listen is the address of the proxy listener.
	Listen string `split_words:"true"`
	// AdminListen serves /metrics and /healthz. Empty disables it.
	AdminListen string `split_words:"true"`
	// ProxyDomain is the domain every proxied origin is a subdomain of.
	ProxyDomain string `split_words:"true"`
	// UpstreamScheme is the scheme used to reach targets. Only tests use http.
	UpstreamScheme string `split_words:"true"`
	// UpstreamTimeout bounds a single upstream round trip.
	UpstreamTimeout time.Duration `split_words:"true"`
	// UserAgent is "forward" to pass the caller's user agent through, or a
	// fixed string sent on every upstream request.
	UserAgent string `split_words:"true"`
	// DebugPath returns a JSON echo of the resolved target instead of proxying.
	DebugPath string `split_words:"true"`
	// ScriptSubdomain serves the control script at /proxy-tunnel.js.
	ScriptSubdomain string `split_words:"true"`
	// ScriptMaxAge is the Cache-Control lifetime of the control script.
	ScriptMaxAge time.Duration `split_words:"true"`
	// Inject toggles control script injection into HTML responses.
	Inject bool `split_words:"true"`
	// TunnelOrigins is the allow-list handed to the control script. "*"
	// accepts any origin.
	TunnelOrigins []string `split_words:"true"`

	AllowedOrigin  string `split_words:"true"`
	AllowedMethods string `split_words:"true"`
	AllowedHeaders string `split_words:"true"`

	// RateLimit is the sustained requests per second allowed per client IP.
	// Zero disables limiting.
	RateLimit float64 `split_words:"true"`
	RateBurst int     `split_words:"true"`
}

// HostConfig configures the host side: bridge, tunnel and navigation.
type HostConfig struct {
	// Listen is the address of the bridge websocket server.
	Listen string `split_words:"true"`
	// CommandTimeout expires pending tunnel commands. Zero disables deadlines.
	CommandTimeout time.Duration `split_words:"true"`
	// ShellOrigins restricts which pages may open the bridge websocket.
	// Empty means same-origin only.
	ShellOrigins []string `split_words:"true"`
	// LocalPages maps local page paths to the URL displayed for them.
	LocalPages map[string]string `split_words:"true"`
	// SettingsPath is the persisted settings file.
	SettingsPath string `split_words:"true"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string   `split_words:"true"`
	Development bool     `split_words:"true"`
	Output      []string `split_words:"true"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Listen:          ":8787",
			AdminListen:     "127.0.0.1:9464",
			ProxyDomain:     "tabgate.localhost",
			UpstreamScheme:  "https",
			UpstreamTimeout: 30 * time.Second,
			UserAgent:       "forward",
			DebugPath:       "/THROW_LOGS",
			ScriptSubdomain: "tunnel",
			ScriptMaxAge:    5 * time.Minute,
			Inject:          true,
			TunnelOrigins:   []string{"*"},
			AllowedOrigin:   "*",
			AllowedMethods:  "GET, POST, PUT, DELETE, OPTIONS, HEAD",
			AllowedHeaders:  "*",
			RateLimit:       50,
			RateBurst:       100,
		},
		Host: HostConfig{
			Listen:         "127.0.0.1:8788",
			CommandTimeout: 10 * time.Second,
			LocalPages:     map[string]string{},
			SettingsPath:   DefaultSettingsPath(),
		},
		Log: LogConfig{
			Level:  "info",
			Output: []string{"stderr"},
		},
	}
}

// Load reads the config file at path (or the discovered one when path is
// empty), then applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FindConfigFile(".")
	}

	cfg := DefaultConfig()
	if path != "" {
		var err error
		cfg, err = LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any TABGATE_* environment variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to load environment overrides: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	domain := strings.TrimSpace(c.Gateway.ProxyDomain)
	if domain == "" {
		errs = append(errs, errors.New("gateway.proxy-domain is required"))
	} else if strings.ContainsAny(domain, "/: ") {
		errs = append(errs, fmt.Errorf("gateway.proxy-domain %q must be a bare hostname", domain))
	}
	switch c.Gateway.UpstreamScheme {
	case "http", "https":
	default:
		errs = append(errs, fmt.Errorf("gateway.upstream-scheme %q must be http or https", c.Gateway.UpstreamScheme))
	}
	if c.Gateway.DebugPath != "" && !strings.HasPrefix(c.Gateway.DebugPath, "/") {
		errs = append(errs, fmt.Errorf("gateway.debug-path %q must start with /", c.Gateway.DebugPath))
	}
	if c.Gateway.ScriptSubdomain != "" && strings.Contains(c.Gateway.ScriptSubdomain, ".") {
		errs = append(errs, fmt.Errorf("gateway.script-subdomain %q must be a single label", c.Gateway.ScriptSubdomain))
	}
	if c.Gateway.RateLimit < 0 || c.Gateway.RateBurst < 0 {
		errs = append(errs, errors.New("gateway rate limit must not be negative"))
	}
	for path, display := range c.Host.LocalPages {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, fmt.Errorf("host.local-pages: path %q must start with /", path))
		}
		if _, err := url.Parse(display); err != nil {
			errs = append(errs, fmt.Errorf("host.local-pages: display URL for %q: %w", path, err))
		}
	}

	if c.Gateway.UpstreamTimeout <= 0 {
		c.Gateway.UpstreamTimeout = 30 * time.Second
	}
	if c.Gateway.UserAgent == "" {
		c.Gateway.UserAgent = "forward"
	}
	return errors.Join(errs...)
}

// ScriptURL is the absolute URL of the control script on the script subdomain.
func (g GatewayConfig) ScriptURL() string {
	if g.ScriptSubdomain == "" {
		return ""
	}
	return "https://" + g.ScriptSubdomain + "." + g.ProxyDomain + "/proxy-tunnel.js"
}

// DefaultSettingsPath returns $XDG_STATE_HOME/tabgate/settings.json, falling
// back to ~/.local/state.
func DefaultSettingsPath() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "tabgate", "settings.json")
		}
		stateDir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateDir, "tabgate", "settings.json")
}
