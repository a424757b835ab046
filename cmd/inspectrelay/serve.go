package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/philsphicas/inspectrelay/internal/config"
	"github.com/philsphicas/inspectrelay/internal/diag"
	"github.com/philsphicas/inspectrelay/internal/discovery"
	"github.com/philsphicas/inspectrelay/internal/metrics"
	"github.com/philsphicas/inspectrelay/internal/relay"
	"github.com/philsphicas/inspectrelay/internal/server"
	"github.com/philsphicas/inspectrelay/internal/session"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the discovery endpoints and relay WebSocket traffic",
		Long: `Start the relay. Frontends discover the target through /json/list and
connect to /targets/<id>; the backend connects to /client. Frontend messages
sent before a backend attaches are queued and delivered in order.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().Int("port", config.DefaultPort, "HTTP port to listen on (env PORT)")
	cmd.Flags().String("bind", "", "address to bind; all interfaces if empty")
	cmd.Flags().String("public-addr", "", "host[:port] advertised in target URLs; defaults to the request Host")
	cmd.Flags().String("metrics-addr", "", "address for Prometheus metrics server (e.g. :9090); disabled if empty")
	cmd.Flags().Int("max-frontends", 0, "max concurrent frontend connections (0 = unlimited)")
	cmd.Flags().StringSlice("allowed-origins", nil, "origins allowed by CORS on the HTTP routes")
	cmd.Flags().Duration("write-timeout", 10*time.Second, "timeout for each write to the backend")
	cmd.Flags().Duration("ping-interval", 30*time.Second, "WebSocket keepalive interval (0 disables)")
	cmd.Flags().Int64("read-limit", 64<<20, "max WebSocket message size in bytes")
	cmd.Flags().Bool("no-color", false, "disable colors in traffic lines")

	return cmd
}

// serveOptions is the fully resolved configuration for runServe.
type serveOptions struct {
	port           int
	bind           string
	publicAddr     string
	logLevel       string
	metricsAddr    string
	maxFrontends   int
	allowedOrigins []string
	writeTimeout   time.Duration
	pingInterval   time.Duration
	readLimit      int64
	noColor        bool
}

func resolveServeOptions(cmd *cobra.Command) (serveOptions, error) {
	file, err := loadConfigFile(cmd)
	if err != nil {
		return serveOptions{}, err
	}

	var o serveOptions
	if o.port, err = resolveInt(cmd, "port", "PORT", file.Port); err != nil {
		return serveOptions{}, err
	}
	if o.port < 0 || o.port > 65535 {
		return serveOptions{}, fmt.Errorf("port %d out of range", o.port)
	}
	if o.maxFrontends, err = resolveInt(cmd, "max-frontends", "INSPECTRELAY_MAX_FRONTENDS", file.MaxFrontends); err != nil {
		return serveOptions{}, err
	}
	if o.maxFrontends < 0 {
		return serveOptions{}, fmt.Errorf("--max-frontends must be >= 0, got %d", o.maxFrontends)
	}
	o.bind = resolveString(cmd, "bind", "INSPECTRELAY_BIND", file.Bind)
	o.publicAddr = resolveString(cmd, "public-addr", "INSPECTRELAY_PUBLIC_ADDR", file.PublicAddr)
	o.logLevel = resolveString(cmd, "log-level", "INSPECTRELAY_LOG_LEVEL", file.LogLevel)
	o.metricsAddr = resolveString(cmd, "metrics-addr", "INSPECTRELAY_METRICS_ADDR", file.MetricsAddr)
	o.allowedOrigins = resolveStringSlice(cmd, "allowed-origins", "INSPECTRELAY_ALLOWED_ORIGINS", file.AllowedOrigins)
	o.writeTimeout = resolveDuration(cmd, "write-timeout", file.WriteTimeout)
	if o.writeTimeout <= 0 {
		return serveOptions{}, fmt.Errorf("--write-timeout must be > 0, got %s", o.writeTimeout)
	}
	o.pingInterval = resolveDuration(cmd, "ping-interval", file.PingInterval)
	if o.pingInterval < 0 {
		return serveOptions{}, fmt.Errorf("--ping-interval must be >= 0, got %s", o.pingInterval)
	}
	o.readLimit = resolveInt64(cmd, "read-limit", file.ReadLimit)
	if o.readLimit <= 0 {
		return serveOptions{}, fmt.Errorf("--read-limit must be > 0, got %d", o.readLimit)
	}
	o.noColor = resolveNoColor(cmd, file.NoColor)
	return o, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	opts, err := resolveServeOptions(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(opts.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := startMetrics(ctx, opts.metricsAddr, logger)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(opts.bind, strconv.Itoa(opts.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	// With --port 0 the kernel picks the port; advertise the real one.
	port := ln.Addr().(*net.TCPAddr).Port

	sess := session.NewSession()
	r := relay.New(relay.Config{
		Session:      sess,
		Logger:       logger,
		Metrics:      m,
		Diag:         diag.New(os.Stdout, !opts.noColor),
		WriteTimeout: opts.writeTimeout,
		PingInterval: opts.pingInterval,
		ReadLimit:    opts.readLimit,
		MaxFrontends: opts.maxFrontends,
	})

	host := discovery.ResolveHost(opts.publicAddr, "", port)
	logger.Info("session created",
		"session", sess.ID(),
		"target", discovery.ListTargets(sess.ID(), host)[0].WebSocketDebuggerURL,
		"backend", "ws://"+host+"/client",
	)

	handler := server.New(server.Config{
		Relay:          r,
		Version:        version,
		PublicAddr:     opts.publicAddr,
		Port:           port,
		AllowedOrigins: opts.allowedOrigins,
		Logger:         logger,
	})
	return server.Serve(ctx, ln, handler, "relay", logger)
}

// startMetrics creates a Metrics instance and starts its HTTP server when
// addr is set. It returns nil if metrics are disabled. ctx controls the
// server's lifetime.
func startMetrics(ctx context.Context, addr string, logger *slog.Logger) (*metrics.Metrics, error) {
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", addr, err)
	}
	m := metrics.New()
	go func() {
		if err := server.Serve(ctx, ln, m.Handler(), "metrics server", logger); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return m, nil
}
