// Package webservice provides the HTTP server receiving abandoned cart events, alongside its metrics server.
package webservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cartwatch/cartwatch/internal/constants"
	"github.com/cartwatch/cartwatch/internal/event"
	opsmetrics "github.com/cartwatch/cartwatch/internal/metrics"
	"github.com/cartwatch/cartwatch/internal/webservice/handlers"
	"github.com/cartwatch/cartwatch/internal/webservice/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// Server is a struct that holds the HTTP servers and their configuration.
type Server struct {
	httpServer    *http.Server
	metricsServer *opsmetrics.Server
	cm            dConfigManager

	primaryAddr net.Addr
	mu          sync.RWMutex

	// This context is used to interrupt any action.
	// It must be the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// This context waits for in-flight requests before interrupting.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc
}

// StaticConfig holds the static configuration for the server.
type StaticConfig struct {
	ConfigPath string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int64

	ListenHost string
	ListenPort int

	Metrics opsmetrics.Config
}

type dConfigManager interface {
	Load() error
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	Pipeline() event.Pipeline
}

// New creates a new Server instance serving cart events to store.
// The dynamic configuration is loaded once before returning.
func New(ctx context.Context, cm dConfigManager, store handlers.Store, sc StaticConfig) (*Server, error) {
	if err := cm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}

	if sc.MaxBodyBytes <= 0 {
		sc.MaxBodyBytes = constants.DefaultMaxBodyBytes
	}

	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	s := Server{
		cm:     cm,
		ctx:    ctx,
		cancel: cancel,

		gracefulCtx:    gCtx,
		gracefulCancel: gCancel,
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	routeMetrics := metrics.NewRouteMiddleware(reg)

	cartHandler := handlers.NewCartEvent(cm, store, metrics.NewEvents(reg), sc.MaxBodyBytes)
	mux := http.NewServeMux()
	mux.Handle("POST "+constants.CartEventPath, routeMetrics.Wrap(metrics.RouteCartEvent, cartHandler))
	mux.Handle("GET /version", routeMetrics.Wrap(metrics.RouteVersion, http.HandlerFunc(handlers.VersionHandler)))

	var handler http.Handler = mux
	if sc.RequestTimeout > 0 {
		handler = http.TimeoutHandler(handler, sc.RequestTimeout, "")
	}
	handler = metrics.NewServerMiddleware(reg).Wrap(handler)

	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(sc.ListenHost, strconv.Itoa(sc.ListenPort)),
		ReadTimeout:    sc.ReadTimeout,
		WriteTimeout:   sc.WriteTimeout,
		Handler:        handler,
		MaxHeaderBytes: sc.MaxHeaderBytes,
	}
	s.metricsServer = opsmetrics.New(sc.Metrics, reg, store.Ready)

	return &s, nil
}

// Run starts the primary and metrics servers and blocks until they stop.
//
// A failure of either server, or an unrecoverable configuration watcher error, stops both.
func (s *Server) Run() error {
	// already asked to quit?
	select {
	case <-s.gracefulCtx.Done():
		return errors.New("server is already shutting down")
	default:
	}

	_, watchErr, err := s.cm.Watch(s.gracefulCtx)
	if err != nil {
		return fmt.Errorf("failed to start watching configuration: %v", err)
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to listen on %s: %v", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.primaryAddr = listener.Addr()
	s.mu.Unlock()
	slog.Info("Starting server", "addr", listener.Addr().String())

	g, gCtx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("primary server: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-s.gracefulCtx.Done():
				if s.ctx.Err() != nil {
					// Forced quit: the servers are already closed.
					return nil
				}
				slog.Info("Graceful shutdown initiated")
				// Use the parent ctx so that a forced quit unblocks Shutdown immediately.
				err := errors.Join(s.httpServer.Shutdown(s.ctx), s.metricsServer.Shutdown(s.ctx))
				if err != nil {
					slog.Error("Graceful shutdown failed", "err", err)
					return err
				}
				slog.Info("Server shut down gracefully")
				return nil

			case <-gCtx.Done():
				if s.ctx.Err() != nil {
					return nil
				}
				return errors.Join(s.httpServer.Close(), s.metricsServer.Close())

			case err, ok := <-watchErr:
				if !ok {
					watchErr = nil
					continue
				}
				slog.Error("Config watcher encountered unrecoverable error", "err", err)
				return errors.Join(err, s.httpServer.Close(), s.metricsServer.Close())
			}
		}
	})

	err = g.Wait()
	// now kill everything else (watchers, handlers, etc.)
	s.cancel()
	if err != nil {
		slog.Error("Server encountered error", "err", err)
	}
	return err
}

// Quit shuts down the servers. Without force, in-flight requests are completed first.
func (s *Server) Quit(force bool) {
	if force {
		s.httpServer.Close()
		s.metricsServer.Close()
		s.cancel()
	} else {
		s.gracefulCancel()
	}
	slog.Info("Server quit")
}

// Addr returns the address the primary server listens on, or its configured address before it listens.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.primaryAddr == nil {
		return s.httpServer.Addr
	}
	return s.primaryAddr.String()
}
