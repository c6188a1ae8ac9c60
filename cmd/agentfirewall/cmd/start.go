package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/IsaacHuo/agent-firewall/internal/adapter/inbound/operator"
	"github.com/IsaacHuo/agent-firewall/internal/adapter/inbound/sse"
	"github.com/IsaacHuo/agent-firewall/internal/adapter/inbound/stdio"
	"github.com/IsaacHuo/agent-firewall/internal/adapter/inbound/websocket"
	"github.com/IsaacHuo/agent-firewall/internal/config"
	"github.com/IsaacHuo/agent-firewall/internal/service"
	"github.com/IsaacHuo/agent-firewall/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start [-- command [args...]]",
	Short: "Start the gateway",
	Long: `Start the agentfirewall gateway.

The gateway fronts exactly one upstream MCP server, configured via
upstream.http or upstream.command in the config file, or by passing a
command after "--".

Examples:
  # Start with config file settings
  agentfirewall start

  # Start in front of a spawned MCP server
  agentfirewall start -- npx @modelcontextprotocol/server-filesystem /tmp`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode (mock L2 backend, debug logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	if len(args) > 0 {
		cfg.Upstream.HTTP = ""
		cfg.Upstream.Command = args[0]
		cfg.Upstream.Args = args[1:]
	}

	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(cfg.Trace.Exporter, "agentfirewall", logger)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown reported errors", "error", err)
		}
	}()

	gateway, err := service.BuildGateway(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			logger.Warn("gateway shutdown reported errors", "error", err)
		}
	}()

	return serveTransports(ctx, cfg, gateway, logger)
}

func serveTransports(ctx context.Context, cfg *config.Config, gateway *service.Gateway, logger *slog.Logger) error {
	errCh := make(chan error, 5)
	running := 0

	if cfg.Server.Stdio {
		running++
		go func() {
			transport := stdio.NewTransport(gateway.Chain, "local", logger)
			errCh <- transport.Serve(ctx, os.Stdin, os.Stdout)
		}()
	}

	var sseTransport *sse.Transport
	if cfg.Server.SSEAddr != "" {
		running++
		sseTransport = sse.NewTransport(cfg.Server.SSEAddr, gateway.Chain, logger)
		go func() {
			logger.Info("sse transport listening", "addr", cfg.Server.SSEAddr)
			errCh <- sseTransport.ListenAndServe()
		}()
	}

	var wsTransport *websocket.Transport
	if cfg.Server.WebSocketAddr != "" {
		running++
		wsTransport = websocket.NewTransport(cfg.Server.WebSocketAddr, gateway.Chain, logger)
		go func() {
			logger.Info("websocket transport listening", "addr", cfg.Server.WebSocketAddr)
			errCh <- wsTransport.ListenAndServe()
		}()
	}

	var metricsServer *telemetry.Server
	if cfg.Metrics.Addr != "" {
		running++
		metricsServer = telemetry.NewServer(cfg.Metrics.Addr, gateway.Registry)
		go func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
			errCh <- metricsServer.ListenAndServe()
		}()
	}

	var operatorTransport *operator.Transport
	if cfg.Server.OperatorAddr != "" {
		running++
		operatorTransport = operator.NewTransport(cfg.Server.OperatorAddr, gateway.Hub, logger)
		go func() {
			logger.Info("operator transport listening", "addr", cfg.Server.OperatorAddr)
			errCh <- operatorTransport.ListenAndServe()
		}()
	}

	if running == 0 {
		return errors.New("no transport configured: enable server.stdio, server.sse_addr, server.websocket_addr, or server.operator_addr")
	}

	var firstErr error
	select {
	case firstErr = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if sseTransport != nil {
		_ = sseTransport.Shutdown(shutdownCtx)
	}
	if wsTransport != nil {
		_ = wsTransport.Shutdown(shutdownCtx)
	}
	if operatorTransport != nil {
		_ = operatorTransport.Shutdown(shutdownCtx)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("agentfirewall stopped")
	return firstErr
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
