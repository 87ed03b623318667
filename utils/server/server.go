package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Server struct {
	router *http.ServeMux
	port   int
	http   *http.Server
}

type Config struct {
	Port     int
	Handlers map[string]http.HandlerFunc
}

func NuevoServer(config Config) *Server {
	s := &Server{
		router: http.NewServeMux(),
		port:   config.Port,
	}

	for path, handler := range config.Handlers {
		s.router.HandleFunc(path, handler)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Iniciar serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Iniciar(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
