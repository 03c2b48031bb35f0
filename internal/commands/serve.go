package commands

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"github.com/vedant-gala/Credora/internal/config"
	"github.com/vedant-gala/Credora/internal/handler"
	"github.com/vedant-gala/Credora/internal/middleware"
	"github.com/vedant-gala/Credora/internal/tlsconfig"
	"github.com/vedant-gala/Credora/internal/tracing"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setupFromFlags(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if port != "" {
				a.cfg.Server.Port = port
			}
			return runServe(ctx, a)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "override server.port")

	return cmd
}

// newRouter builds the HTTP router with the middleware stack.
func newRouter(a *app, limiter *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	if limiter != nil {
		r.Use(middleware.RateLimitMiddleware(limiter))
	}
	r.Use(middleware.TracingMiddleware())
	r.Use(cors.Handler(corsOptions(a.cfg.Security)))

	h := handler.NewHandlerWithOptions(a.svc, handler.NewHandlerOptions{
		MaxBodySize: a.cfg.Security.MaxRequestBodySize,
		Pinger:      a.pinger(),
		Logger:      a.logger,
	})
	h.Routes(r)

	return r
}

func corsOptions(cfg config.SecurityConfig) cors.Options {
	var origins []string
	for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	wildcard := len(origins) == 1 && origins[0] == "*"
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "traceparent"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	}
}

func runServe(ctx context.Context, a *app) error {
	cfg := a.cfg

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Version:     Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer limiter.Stop()
	}

	var tlsConfig *tls.Config
	if cfg.Server.EnableTLS {
		tlsCfg := tlsconfig.Config{
			CertFile: cfg.Server.CertFile,
			KeyFile:  cfg.Server.KeyFile,
		}
		tlsConfig, err = tlsconfig.LoadTLSConfig(tlsCfg)
		if err != nil {
			return fmt.Errorf("failed to load TLS configuration: %w", err)
		}
		if tlsCfg.SelfSigned() {
			a.logger.Warn("No certificate files provided, using self-signed certificate for development")
		}
	}

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(a, limiter),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	protocol := "HTTP"
	if tlsConfig != nil {
		protocol = "HTTPS"
	}
	a.logger.Info("Starting server",
		slog.String("protocol", protocol),
		slog.String("addr", addr),
		slog.String("driver", cfg.Database.Driver),
		slog.Bool("rate_limit", cfg.RateLimit.Enabled),
		slog.Bool("tracing", tp.Enabled()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Error shutting down server", slog.Any("error", err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Error flushing traces", slog.Any("error", err))
	}
	return nil
}
