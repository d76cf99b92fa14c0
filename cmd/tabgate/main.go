package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/standardbeagle/tabgate/internal/config"
	"github.com/standardbeagle/tabgate/internal/logging"
	"github.com/standardbeagle/tabgate/internal/settings"
)

const (
	appName    = "tabgate"
	appVersion = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Embed third-party pages as controllable browser tabs",
	Long: `Tabgate lets a host application embed arbitrary web pages as tabs it can control:
  - Reverse-proxy gateway that maps every origin to a subdomain and injects a control script
  - Command tunnel between the host and each embedded page
  - Per-tab navigation and history model, exposed to a shell page over a websocket bridge`,
	Version:       appVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config.kdl (default: discovered)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(mcpCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration named by --config and applies the
// persisted tunnel settings on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}

	store, err := settings.Open(settings.FileStoreConfig{Path: cfg.Host.SettingsPath})
	if err != nil {
		return nil, err
	}
	t := settings.ReadTunnel(store, settings.Tunnel{
		ProxyDomain:    cfg.Gateway.ProxyDomain,
		AllowedOrigins: cfg.Gateway.TunnelOrigins,
	})
	cfg.Gateway.ProxyDomain = t.ProxyDomain
	cfg.Gateway.TunnelOrigins = t.AllowedOrigins
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		OutputPaths: cfg.Log.Output,
	})
}
