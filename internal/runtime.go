package internal

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrymomot/mailkit/pkg/logger"
)

const (
	defaultAddress           = ":8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 30 * time.Second
)

// RunOption configures the worker runtime.
type RunOption func(*runConfig)

type runConfig struct {
	baseCtx         context.Context
	handler         http.Handler
	logger          *slog.Logger
	address         string
	startHooks      []func(context.Context) error
	background      []func(context.Context) error
	shutdownHooks   []func(context.Context) error
	shutdownTimeout time.Duration
}

// Address sets the listen address of the HTTP server. Default: ":8080".
func Address(addr string) RunOption {
	return func(c *runConfig) {
		if addr != "" {
			c.address = addr
		}
	}
}

// Handler serves HTTP (health, metrics, previews) while the worker runs.
// Without a handler no server is started.
func Handler(h http.Handler) RunOption {
	return func(c *runConfig) {
		c.handler = h
	}
}

// Logger sets the runtime logger.
func Logger(l *slog.Logger) RunOption {
	return func(c *runConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// ShutdownTimeout bounds the graceful shutdown. Default: 30 seconds.
func ShutdownTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d > 0 {
			c.shutdownTimeout = d
		}
	}
}

// BaseContext sets the parent of the signal-aware run context.
func BaseContext(ctx context.Context) RunOption {
	return func(c *runConfig) {
		if ctx != nil {
			c.baseCtx = ctx
		}
	}
}

// StartHook runs fn before anything else starts. A failing hook aborts Run.
func StartHook(fn func(context.Context) error) RunOption {
	return func(c *runConfig) {
		c.startHooks = append(c.startHooks, fn)
	}
}

// Background runs fn in its own goroutine until the run context is canceled.
// A background loop returning an error stops the runtime.
func Background(fn func(context.Context) error) RunOption {
	return func(c *runConfig) {
		c.background = append(c.background, fn)
	}
}

// ShutdownHook runs fn after the server and background loops stopped.
func ShutdownHook(fn func(context.Context) error) RunOption {
	return func(c *runConfig) {
		c.shutdownHooks = append(c.shutdownHooks, fn)
	}
}

// Run starts the worker and blocks until SIGINT, SIGTERM, cancellation of the
// base context or a failing background loop, then shuts down gracefully.
func Run(opts ...RunOption) error {
	cfg := &runConfig{
		baseCtx:         context.Background(),
		logger:          logger.NewNope(),
		address:         defaultAddress,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := signal.NotifyContext(cfg.baseCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, hook := range cfg.startHooks {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	errCh := make(chan error, len(cfg.background)+1)

	var server *http.Server
	if cfg.handler != nil {
		ln, err := net.Listen("tcp", cfg.address)
		if err != nil {
			return err
		}
		server = &http.Server{
			Handler:           cfg.handler,
			ReadTimeout:       defaultReadTimeout,
			WriteTimeout:      defaultWriteTimeout,
			IdleTimeout:       defaultIdleTimeout,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
		}
		go func() {
			cfg.logger.Info("server starting", slog.String("address", ln.Addr().String()))
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()

	var wg sync.WaitGroup
	for _, fn := range cfg.background {
		wg.Go(func() {
			if err := fn(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		})
	}

	var runErr error
	select {
	case runErr = <-errCh:
		cfg.logger.Error("worker stopped with error", slog.Any("error", runErr))
	case <-ctx.Done():
	}

	cfg.logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer shutdownCancel()

	errs := []error{runErr}

	stopLoops()
	wg.Wait()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	for _, hook := range cfg.shutdownHooks {
		if err := hook(shutdownCtx); err != nil {
			errs = append(errs, err)
			cfg.logger.Error("shutdown hook failed", slog.Any("error", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	cfg.logger.Info("shutdown completed")
	return nil
}
