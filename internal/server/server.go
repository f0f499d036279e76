// Package server assembles the gateway, its side endpoints and the
// http.Server from a loaded config.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fabian4/peaudiosys-gateway/internal/config"
	"github.com/fabian4/peaudiosys-gateway/internal/directory"
	"github.com/fabian4/peaudiosys-gateway/internal/handler"
	"github.com/fabian4/peaudiosys-gateway/internal/metrics"
	"github.com/fabian4/peaudiosys-gateway/internal/ratelimit"
	"github.com/fabian4/peaudiosys-gateway/internal/router"
	"github.com/fabian4/peaudiosys-gateway/internal/session"
	"github.com/fabian4/peaudiosys-gateway/internal/version"
)

const shutdownGrace = 5 * time.Second

// Server owns the HTTP listener and the files opened for it.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	http    *http.Server
	closers []io.Closer
}

// New wires every component. accessOut receives the access log when
// access_log.path is empty; nil means os.Stdout.
func New(cfg *config.Config, logger *slog.Logger, accessOut io.Writer) (*Server, error) {
	dir, err := directory.New(cfg.Services, cfg.DefaultService)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, logger: logger}

	gw := handler.NewGateway(router.New(cfg.Routes, cfg.DefaultService), dir, session.NewClient(), handler.Settings{
		Timeouts: cfg.Timeouts,
		Response: cfg.Response,
		Verbose:  cfg.Log.Verbose,
	})
	gw.Logger = logger
	gw.Limiter = ratelimit.New(cfg.Services)

	if cfg.AccessLog.Enabled {
		w := accessOut
		if cfg.AccessLog.Path != "" {
			f, err := os.OpenFile(cfg.AccessLog.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("access log: %w", err)
			}
			s.closers = append(s.closers, f)
			w = f
		}
		if w == nil {
			w = os.Stdout
		}
		gw.AccessLog = handler.NewAccessLogger(w, cfg.AccessLog)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, gw)
	if cfg.Path != "/" {
		mux.HandleFunc("/", nack)
	}
	mux.HandleFunc(config.HealthPath, health)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		gw.Metrics = metrics.NewRegistry(reg)
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadTimeout:       cfg.Timeouts.HTTPRead,
		ReadHeaderTimeout: cfg.Timeouts.HTTPRead,
		WriteTimeout:      cfg.Timeouts.HTTPWrite,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s, nil
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("gateway listening",
		"version", version.Value,
		"addr", ln.Addr().String(),
		"path", s.cfg.Path,
		"services", len(s.cfg.Services),
		"routes", len(s.cfg.Routes),
		"default_service", s.cfg.DefaultService)

	errc := make(chan error, 1)
	go func() { errc <- s.http.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	<-errc
	s.logger.Info("gateway stopped")
	return err
}

// Close releases files opened by New.
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "ok\n")
}

// nack answers requests outside the gateway mount.
func nack(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "NACK\n")
}
