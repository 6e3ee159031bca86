package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"tailscale.com/tsnet"

	"github.com/matt-riley/flagdeck/internal/metrics"
	"github.com/matt-riley/flagdeck/internal/middleware"
	"github.com/matt-riley/flagdeck/internal/server"
	"github.com/matt-riley/flagdeck/internal/tracing"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the console HTTP API",
		Long: `Serve the console HTTP API on HTTP_ADDR.

When CONSOLE_HOSTNAME is set the same API is also served on the tailnet
under that hostname, using TS_AUTH_KEY and TS_STATE_DIR.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()

	shutdownTracer, err := tracing.Init(ctx, version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("tracer shutdown error", "err", err)
		}
	}()

	m := metrics.New()
	c, err := openConsole(cmd, m)
	if err != nil {
		return err
	}
	defer c.close()
	log := c.log

	writeLimiter := middleware.NewRateLimiter(ctx, c.cfg.WriteRateLimit)
	defer writeLimiter.Stop()

	apiHandler := server.NewHTTPHandler(c.svc,
		server.WithMaxJSONBodySize(c.cfg.MaxJSONBodySize),
		server.WithMetrics(m),
		server.WithWriteLimiter(writeLimiter),
	)
	handler := otelhttp.NewHandler(middleware.HTTPRequestLogging(log)(apiHandler), "flagdeck-http")

	httpServer := newHTTPServer(handler)

	var tsServer *tsnet.Server
	var tailnetServer *http.Server
	if c.cfg.ConsoleHostname != "" {
		if c.cfg.TSAuthKey == "" {
			return errors.New("CONSOLE_HOSTNAME is set but TS_AUTH_KEY is missing")
		}
		if err := os.MkdirAll(c.cfg.TSStateDir, 0o700); err != nil {
			return fmt.Errorf("create ts-state dir: %w", err)
		}

		tsServer = &tsnet.Server{
			Hostname: c.cfg.ConsoleHostname,
			AuthKey:  c.cfg.TSAuthKey,
			Dir:      c.cfg.TSStateDir,
			Logf:     func(format string, args ...any) { log.Debug(fmt.Sprintf(format, args...), "component", "tailscale") },
		}
		defer tsServer.Close()

		tailnetLis, err := tsServer.Listen("tcp", ":80")
		if err != nil {
			return fmt.Errorf("listen tailnet: %w", err)
		}
		log.Info("console listening", "hostname", c.cfg.ConsoleHostname, "transport", "tailscale")

		tailnetServer = newHTTPServer(handler)
		go func() {
			if err := tailnetServer.Serve(tailnetLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("tailnet server error", "error", err)
			}
		}()
	}

	httpListener, err := net.Listen("tcp", c.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", c.cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	log.Info("server started", "http_addr", c.cfg.HTTPAddr, "blob_store", c.cfg.BlobStore, "version", version)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}

	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if tailnetServer != nil {
		if err := tailnetServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("tailnet server shutdown error", "error", err)
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	return serveErr
}

func newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
}
