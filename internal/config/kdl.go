package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
)

// KDL configuration file names
const (
	GlobalConfigFile  = "config.kdl"
	ProjectConfigFile = ".tabgate.kdl"
)

// KDLConfig represents the KDL configuration structure.
// Durations are whole seconds.
type KDLConfig struct {
	Gateway KDLGateway `kdl:"gateway"`
	Host    KDLHost    `kdl:"host"`
	Log     KDLLog     `kdl:"log"`
}

// KDLGateway holds the gateway section.
type KDLGateway struct {
	Listen           string   `kdl:"listen"`
	AdminListen      string   `kdl:"admin-listen"`
	ProxyDomain      string   `kdl:"proxy-domain"`
	UpstreamScheme   string   `kdl:"upstream-scheme"`
	UpstreamTimeout  int      `kdl:"upstream-timeout"`
	UserAgent        string   `kdl:"user-agent"`
	DebugPath        string   `kdl:"debug-path"`
	ScriptSubdomain  string   `kdl:"script-subdomain"`
	ScriptMaxAge     int      `kdl:"script-max-age"`
	DisableInjection bool     `kdl:"disable-injection"`
	TunnelOrigins    []string `kdl:"tunnel-origins"`
	AllowedOrigin    string   `kdl:"allowed-origin"`
	AllowedMethods   string   `kdl:"allowed-methods"`
	AllowedHeaders   string   `kdl:"allowed-headers"`
	RateLimit        int      `kdl:"rate-limit"`
	RateBurst        int      `kdl:"rate-burst"`
}

// KDLHost holds the host section.
type KDLHost struct {
	Listen         string   `kdl:"listen"`
	CommandTimeout int      `kdl:"command-timeout"`
	ShellOrigins   []string `kdl:"shell-origins"`
	// LocalPages entries are "path=display-url".
	LocalPages   []string `kdl:"local-pages"`
	SettingsPath string   `kdl:"settings-path"`
}

// KDLLog holds the log section.
type KDLLog struct {
	Level       string   `kdl:"level"`
	Development bool     `kdl:"development"`
	Output      []string `kdl:"output"`
}

// FindConfigFile returns the nearest .tabgate.kdl at or above dir, then the
// global config file, or "" when neither exists.
func FindConfigFile(dir string) string {
	if absDir, err := filepath.Abs(dir); err == nil {
		for {
			configPath := filepath.Join(absDir, ProjectConfigFile)
			if _, err := os.Stat(configPath); err == nil {
				return configPath
			}
			parent := filepath.Dir(absDir)
			if parent == absDir {
				break
			}
			absDir = parent
		}
	}

	global := GlobalConfigPath()
	if global == "" {
		return ""
	}
	if _, err := os.Stat(global); err != nil {
		return ""
	}
	return global
}

// LoadConfigFile loads configuration from a specific file path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseKDLConfig(string(data))
}

// ParseKDLConfig parses KDL configuration data on top of the defaults.
func ParseKDLConfig(data string) (*Config, error) {
	var kdlCfg KDLConfig
	if err := kdl.Unmarshal([]byte(data), &kdlCfg); err != nil {
		return nil, err
	}

	return kdlConfigToConfig(&kdlCfg)
}

func kdlConfigToConfig(k *KDLConfig) (*Config, error) {
	cfg := DefaultConfig()

	g := &cfg.Gateway
	setString(&g.Listen, k.Gateway.Listen)
	setString(&g.AdminListen, k.Gateway.AdminListen)
	if k.Gateway.AdminListen == "off" {
		g.AdminListen = ""
	}
	setString(&g.ProxyDomain, k.Gateway.ProxyDomain)
	setString(&g.UpstreamScheme, k.Gateway.UpstreamScheme)
	setSeconds(&g.UpstreamTimeout, k.Gateway.UpstreamTimeout)
	setString(&g.UserAgent, k.Gateway.UserAgent)
	setString(&g.DebugPath, k.Gateway.DebugPath)
	setString(&g.ScriptSubdomain, k.Gateway.ScriptSubdomain)
	setSeconds(&g.ScriptMaxAge, k.Gateway.ScriptMaxAge)
	if k.Gateway.DisableInjection {
		g.Inject = false
	}
	if len(k.Gateway.TunnelOrigins) > 0 {
		g.TunnelOrigins = k.Gateway.TunnelOrigins
	}
	setString(&g.AllowedOrigin, k.Gateway.AllowedOrigin)
	setString(&g.AllowedMethods, k.Gateway.AllowedMethods)
	setString(&g.AllowedHeaders, k.Gateway.AllowedHeaders)
	switch {
	case k.Gateway.RateLimit < 0:
		g.RateLimit = 0
	case k.Gateway.RateLimit > 0:
		g.RateLimit = float64(k.Gateway.RateLimit)
	}
	if k.Gateway.RateBurst > 0 {
		g.RateBurst = k.Gateway.RateBurst
	}

	h := &cfg.Host
	setString(&h.Listen, k.Host.Listen)
	setSeconds(&h.CommandTimeout, k.Host.CommandTimeout)
	if len(k.Host.ShellOrigins) > 0 {
		h.ShellOrigins = k.Host.ShellOrigins
	}
	for _, entry := range k.Host.LocalPages {
		path, display, ok := strings.Cut(entry, "=")
		if !ok || path == "" || display == "" {
			return nil, fmt.Errorf("host.local-pages: entry %q is not path=display-url", entry)
		}
		h.LocalPages[path] = display
	}
	setString(&h.SettingsPath, k.Host.SettingsPath)

	l := &cfg.Log
	setString(&l.Level, k.Log.Level)
	l.Development = k.Log.Development
	if len(k.Log.Output) > 0 {
		l.Output = k.Log.Output
	}

	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setSeconds(dst *time.Duration, secs int) {
	if secs > 0 {
		*dst = time.Duration(secs) * time.Second
	}
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "tabgate", GlobalConfigFile)
}

// WriteDefaultConfig writes a default config file with documentation.
func WriteDefaultConfig(path string) error {
	defaultKDL := `// tabgate configuration
// Durations are in seconds.

gateway {
    listen ":8787"
    // "off" disables the metrics listener
    admin-listen "127.0.0.1:9464"
    proxy-domain "tabgate.localhost"
    upstream-timeout 30
    // "forward" passes the browser's user agent through
    user-agent "forward"
    debug-path "/THROW_LOGS"
    script-subdomain "tunnel"
    script-max-age 300
    tunnel-origins "*"
    allowed-origin "*"
    // requests per second per client, -1 disables
    rate-limit 50
    rate-burst 100
}

host {
    listen "127.0.0.1:8788"
    command-timeout 10
    local-pages "/pages/welcome.html=https://welcome.tabgate"
}

log {
    level "info"
    development false
}
`
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(strings.TrimSpace(defaultKDL)+"\n"), 0644)
}
