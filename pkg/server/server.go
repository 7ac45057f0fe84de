package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bascanada/epidata/pkg/api"
	"github.com/bascanada/epidata/pkg/epidata/client/config"
	"github.com/bascanada/epidata/pkg/epidata/factory"
	"github.com/bascanada/epidata/pkg/metrics"
)

// Server represents the API server instance.
type Server struct {
	mu           sync.RWMutex
	config       *config.Config
	engines      factory.EngineFactory
	queryFactory factory.QueryFactory

	configPath  string
	router      *http.ServeMux
	httpServer  *http.Server
	logger      *slog.Logger
	port        string
	host        string
	eventBroker *EventBroker
}

// NewServer creates a new API server instance. configPath is the file
// ReloadConfig reads; it may be empty when the configuration is not backed
// by a file.
func NewServer(host, port string, cfg *config.Config, configPath string, logger *slog.Logger) (*Server, error) {
	engines, err := factory.GetEngineFactory(context.Background(), cfg.Engines)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:       cfg,
		engines:      engines,
		queryFactory: factory.GetQueryFactory(engines, *cfg),
		configPath:   configPath,
		router:       http.NewServeMux(),
		logger:       logger,
		port:         port,
		host:         host,
		eventBroker:  NewEventBroker(logger),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.healthHandler)
	s.router.HandleFunc("/query", s.queryHandler)
	s.router.HandleFunc("/query/", s.queryHandler)
	s.router.HandleFunc("/keys", s.keysHandler)
	s.router.HandleFunc("/contexts", s.contextsHandler)
	s.router.HandleFunc("/contexts/", s.contextsHandler)
	s.router.HandleFunc("/events", s.eventsHandler)
	s.router.Handle("/metrics", metrics.Handler())
	s.router.HandleFunc("/openapi.yaml", openapiHandler(api.OpenAPISpec))
}

// Handler returns the router wrapped in the server middleware.
func (s *Server) Handler() http.Handler {
	return s.chainMiddleware(s.router, s.recoveryMiddleware, s.corsMiddleware, s.requestIDMiddleware, s.loggingMiddleware)
}

// snapshot returns the configuration and factory in use, consistent with
// each other across a reload.
func (s *Server) snapshot() (*config.Config, factory.QueryFactory) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config, s.queryFactory
}

// ReloadConfig reads the configuration file again and swaps the engines.
// Engines of the previous configuration are closed; calls running on them
// fail with a closed bridge.
func (s *Server) ReloadConfig(ctx context.Context) error {
	if s.configPath == "" {
		return errors.New("server configuration is not backed by a file")
	}
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return err
	}
	engines, err := factory.GetEngineFactory(context.Background(), cfg.Engines)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.engines
	s.config = cfg
	s.engines = engines
	s.queryFactory = factory.GetQueryFactory(engines, *cfg)
	s.mu.Unlock()

	if err := old.Close(); err != nil {
		s.logger.Warn("failed to close previous engines", "err", err)
	}
	return nil
}

// Start runs the HTTP server and blocks until a signal is received.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	// listen first to learn the port when 0 was requested
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	actualPort := listener.Addr().(*net.TCPAddr).Port

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.configPath != "" {
		watcher, err := NewConfigWatcher(s, s.configPath, s.logger)
		if err != nil {
			s.logger.Warn("config hot reload disabled", "err", err)
		} else if err := watcher.Start(ctx); err != nil {
			s.logger.Warn("config hot reload disabled", "err", err)
			_ = watcher.Stop()
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", listener.Addr().String())
		fmt.Printf("Server listening on port %d\n", actualPort)
		serverErrors <- s.httpServer.Serve(listener)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		s.closeEngines()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		s.logger.Info("shutdown signal received", "signal", sig)

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		err := s.httpServer.Shutdown(shutdownCtx)
		s.closeEngines()
		if err != nil {
			s.logger.Error("graceful shutdown failed", "err", err)
			return s.httpServer.Close()
		}
		s.logger.Info("server shutdown gracefully")
	}

	return nil
}

// Stop gracefully shuts down the server and its engines.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")
	defer s.closeEngines()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) closeEngines() {
	s.mu.RLock()
	engines := s.engines
	s.mu.RUnlock()
	if err := engines.Close(); err != nil {
		s.logger.Error("failed to close engines", "err", err)
	}
}
