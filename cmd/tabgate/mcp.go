package main

import (
	"context"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/standardbeagle/tabgate/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the tab tools over MCP (stdio)",
	Long: `Run an MCP server on stdin/stdout whose tools list, navigate and read tabs.

The host bridge runs alongside on host.listen so a shell page can attach the frames
the page tool talks to. Logs go to stderr.`,
	RunE: runMCP,
}

var mcpNoBridge bool

func init() {
	mcpCmd.Flags().BoolVar(&mcpNoBridge, "no-bridge", false, "Do not start the host bridge")
	mcpCmd.Flags().StringVar(&bridgePagesDir, "pages", "", "Directory served for local pages")
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	cfg.Log.Output = slices.DeleteFunc(cfg.Log.Output, func(p string) bool { return p == "stdout" })
	if len(cfg.Log.Output) == 0 {
		cfg.Log.Output = []string{"stderr"}
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b := newHostBrowser(cfg, logger)
	var host *http.Server
	if !mcpNoBridge {
		if host, err = startBridge(ctx, cfg, b, logger); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			host.Shutdown(shutdownCtx)
		}()
	}

	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    appName,
			Version: appVersion,
		},
		&mcp.ServerOptions{
			HasTools:     true,
			Instructions: tools.Instructions,
		},
	)
	tools.Register(server, tools.NewBrowserTools(b, tools.Config{
		CallTimeout: cfg.Host.CommandTimeout,
		Logger:      logger,
	}))

	logger.Info("mcp server starting", zap.String("version", appVersion))
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
