package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/keepalive-proxy/internal/admin"
	"github.com/die-net/keepalive-proxy/internal/config"
	"github.com/die-net/keepalive-proxy/internal/dialer"
	"github.com/die-net/keepalive-proxy/internal/metrics"
	"github.com/die-net/keepalive-proxy/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cli := config.NewCLI(pflag.CommandLine)
	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	cfg, err := config.Load(cli)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	cfg.WarnPermissions(logger)

	m := metrics.New()

	d, err := dialer.New(cfg.DialerConfig(), cfg.Upstream.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream: %w", err)
	}
	d = dialer.WithRateLimit(d, cfg.Upstream.DialRate, cfg.Upstream.DialBurst)

	pcfg := cfg.ProxyConfig()
	pcfg.Dialer = d
	pcfg.Logger = logger
	pcfg.Metrics = m

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Admin.Listen != "" {
		ln, err := proxy.ListenTCP(ctx, cfg.Admin.Listen, pcfg.KeepAlive)
		if err != nil {
			return fmt.Errorf("admin listen: %w", err)
		}
		adm := admin.New(m, logger.With("component", "admin"))
		context.AfterFunc(ctx, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = adm.Close(shutdownCtx)
			_ = ln.Close()
		})

		g.Go(func() error {
			if err := adm.Serve(ln); err != nil {
				return fmt.Errorf("admin serve: %w", err)
			}
			return nil
		})
		logger.Info("admin listening", "addr", ln.Addr().String())
	}

	ln, err := proxy.ListenTCP(ctx, cfg.Server.Listen, pcfg.KeepAlive)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	srv := proxy.NewHTTPProxyServer(ctx, pcfg)
	context.AfterFunc(ctx, func() {
		_ = srv.Close()
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("http proxy serve: %w", err)
		}
		return nil
	})
	logger.Info("http proxy listening",
		"addr", ln.Addr().String(),
		"upstream", redactUpstream(cfg.Upstream.URL),
		"pool_idle_timeout", pcfg.PoolIdleTimeout,
	)

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	logger.Info("shutting down")
	return err
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(h)
}

// redactUpstream hides any password in the upstream URL before it is logged.
func redactUpstream(upstream string) string {
	u, err := url.Parse(upstream)
	if err != nil {
		return "invalid"
	}
	if _, ok := u.User.Password(); !ok {
		return upstream
	}
	return u.Redacted()
}
