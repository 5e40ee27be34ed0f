package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// HTTPServer serves health, metrics, and plugin handlers.
type HTTPServer struct {
	Server *http.Server
}

func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{Server: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// ListenAndServe blocks until the server fails or is shut down. A clean
// shutdown returns nil.
func (s *HTTPServer) ListenAndServe() error {
	if err := s.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}
