// Package api provides the HTTP control surface of the bridge.
//
// The route table is fixed: two static pages, a health probe, the
// configuration endpoints, and the token-gated status and command
// routes. Responses are JSON; errors carry a short Italian phrase the
// control pages show verbatim.
//
// The server follows the usual lifecycle:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/domo-bridge/internal/audit"
	"github.com/nerrad567/domo-bridge/internal/control"
	"github.com/nerrad567/domo-bridge/internal/infrastructure/config"
	"github.com/nerrad567/domo-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/domo-bridge/internal/store"
)

// gracefulShutdownTimeout bounds the drain of in-flight requests on
// Close().
const gracefulShutdownTimeout = 10 * time.Second

// Server timeouts. Command handlers can wait on the gateway, so the
// write timeout leaves room for the longest configured transaction.
const (
	readTimeout  = 15 * time.Second
	writeTimeout = 60 * time.Second
	idleTimeout  = 60 * time.Second
)

// Deps holds the dependencies required by the API server. Audit is
// optional; Logger is required.
type Deps struct {
	Config      config.ServerConfig
	Logger      *logging.Logger
	Control     *control.Service
	ConfigStore *store.ConfigStore
	Audit       audit.Repository
	Version     string
}

// Server is the HTTP API server of the bridge.
type Server struct {
	cfg         config.ServerConfig
	logger      *logging.Logger
	control     *control.Service
	configStore *store.ConfigStore
	audit       audit.Repository
	version     string

	server *http.Server
}

// New creates the server. It does not listen until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Control == nil {
		return nil, fmt.Errorf("control service is required")
	}
	if deps.ConfigStore == nil {
		return nil, fmt.Errorf("config store is required")
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		control:     deps.Control,
		configStore: deps.ConfigStore,
		audit:       deps.Audit,
		version:     deps.Version,
	}, nil
}

// Start launches the HTTP listener in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	go func() {
		if serveErr := s.server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", serveErr)
		}
	}()

	s.logger.Info("http server listening", "addr", addr)
	return nil
}

// Close drains in-flight requests and stops the listener.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
