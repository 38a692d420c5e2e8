package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

// Server envuelve http.Server con arranque en background y apagado ordenado.
type Server struct {
	srv  *http.Server
	errc chan error
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		errc: make(chan error, 1),
	}
}

func (s *Server) Addr() string { return s.srv.Addr }

// Start escucha en background; los errores fatales salen por Err().
func (s *Server) Start() {
	go func() {
		logger.L().Info("http listening", logger.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- err
		}
		close(s.errc)
	}()
}

func (s *Server) Err() <-chan error { return s.errc }

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
