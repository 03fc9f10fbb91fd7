package httptransport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"launchkey-go/internal/platform/logging"
)

const defaultShutdownTimeout = 5 * time.Second

// ServerConfig stores the listener settings.
type ServerConfig struct {
	Addr        string
	ReadTimeout time.Duration
}

// Server runs the gin engine on a net/http server with graceful shutdown.
type Server struct {
	cfg     ServerConfig
	handler http.Handler
	logger  *logging.Logger
	httpSrv *http.Server
}

// NewServer builds a Server for handler.
func NewServer(cfg ServerConfig, handler http.Handler, logger *logging.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// Start listens until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), defaultShutdownTimeout, context.Cause(ctx))
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	if s.logger != nil {
		s.logger.InfoTag("HTTP", "listening on %s", ln.Addr())
	}

	err := s.httpSrv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
