package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/standardbeagle/tabgate/internal/bridge"
	"github.com/standardbeagle/tabgate/internal/browser"
	"github.com/standardbeagle/tabgate/internal/codec"
	"github.com/standardbeagle/tabgate/internal/config"
	"github.com/standardbeagle/tabgate/internal/navigation"
	"github.com/standardbeagle/tabgate/internal/proxy"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the reverse-proxy gateway.

Every request to <encoded-host>.<proxy-domain> is proxied to the decoded host. HTML
responses get the control script injected. With --bridge the host bridge runs in the
same process.`,
	RunE: runServe,
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Run the host bridge",
	Long: `Run the websocket bridge a host shell page connects to at /bridge.

The shell relays frame messages in and posts tunnel commands out. Local pages listed
under host.local-pages are served from --pages.`,
	RunE: runBridge,
}

var (
	serveWithBridge bool
	bridgePagesDir  string
)

func init() {
	serveCmd.Flags().BoolVar(&serveWithBridge, "bridge", false, "Also run the host bridge")
	serveCmd.Flags().StringVar(&bridgePagesDir, "pages", "", "Directory served for local pages")
	bridgeCmd.Flags().StringVar(&bridgePagesDir, "pages", "", "Directory served for local pages")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pcfg := proxy.ConfigFrom(cfg.Gateway)
	pcfg.Logger = logger
	gw, err := proxy.NewProxyServer(pcfg)
	if err != nil {
		return err
	}
	if err := gw.Start(ctx); err != nil {
		return err
	}

	var host *http.Server
	if serveWithBridge {
		host, err = startBridge(ctx, cfg, newHostBrowser(cfg, logger), logger)
		if err != nil {
			gw.Stop(context.Background())
			return err
		}
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	var errs []error
	if err := gw.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if host != nil {
		if err := host.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runBridge(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	host, err := startBridge(ctx, cfg, newHostBrowser(cfg, logger), logger)
	if err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return host.Shutdown(shutdownCtx)
}

// hostHandler serves the bridge websocket and, when dir is set, the local
// page files.
func hostHandler(cfg *config.Config, b *browser.Browser, dir string, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(bridge.DefaultPath, bridge.New(b, bridge.Config{
		AllowedOrigins: cfg.Host.ShellOrigins,
		Logger:         logger,
	}))
	if dir != "" {
		mux.Handle("/", http.FileServer(http.Dir(dir)))
	}
	return mux
}

func newHostBrowser(cfg *config.Config, logger *zap.Logger) *browser.Browser {
	return browser.New(browser.Config{
		Codec:          codec.New(cfg.Gateway.ProxyDomain),
		CommandTimeout: cfg.Host.CommandTimeout,
		LocalPages:     navigation.LocalPages(cfg.Host.LocalPages),
		Logger:         logger,
	})
}

func startBridge(ctx context.Context, cfg *config.Config, b *browser.Browser, logger *zap.Logger) (*http.Server, error) {
	l, err := net.Listen("tcp", cfg.Host.Listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           hostHandler(cfg, b, bridgePagesDir, logger),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("bridge server stopped", zap.Error(err))
		}
	}()
	logger.Info("bridge listening", zap.String("addr", l.Addr().String()), zap.String("path", bridge.DefaultPath))
	return srv, nil
}
