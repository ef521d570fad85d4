package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/warpdl/quickq/pkg/logger"
)

// shutdownTimeout bounds how long Run waits for in-flight requests.
const shutdownTimeout = 5 * time.Second

// WebServer serves an RPCServer over HTTP.
type WebServer struct {
	addr   string
	l      logger.Logger
	rpc    *RPCServer
	server *http.Server
	mu     sync.Mutex
}

func NewWebServer(l logger.Logger, rpc *RPCServer, addr string) *WebServer {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &WebServer{addr: addr, l: l, rpc: rpc}
}

func (s *WebServer) handler() http.Handler {
	return s.rpc.Handler()
}

// Start listens on the configured address and blocks until Shutdown.
func (s *WebServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *WebServer) Serve(ln net.Listener) error {
	return s.serve(s.init(), ln)
}

func (s *WebServer) init() *http.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.server = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.server
}

func (s *WebServer) serve(srv *http.Server, ln net.Listener) error {
	s.l.Info("rpc: listening on %s", ln.Addr())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil // Expected during shutdown
	}
	return err
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *WebServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.RunListener(ctx, ln)
}

// RunListener is Run on an existing listener.
func (s *WebServer) RunListener(ctx context.Context, ln net.Listener) error {
	srv := s.init()
	errCh := make(chan error, 1)
	go func() { errCh <- s.serve(srv, ln) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown gracefully stops the web server.
func (s *WebServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
