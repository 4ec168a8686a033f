// Package http is the admin surface: health, Prometheus metrics, pprof,
// and a JSON stats endpoint, served on a separate port from the cache
// protocol's TCP listener.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pomaicache/sidecar/internal/artifact"
	"github.com/pomaicache/sidecar/internal/cache"
)

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableCORS   bool
	EnablePprof  bool
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		EnableCORS:   true,
		EnablePprof:  true,
	}
}

type Server struct {
	engine   *cache.Engine
	artifact *artifact.Cache
	cfg      ServerConfig
	router   *mux.Router
	httpSrv  *http.Server
}

func NewServerWithConfig(engine *cache.Engine, artifactCache *artifact.Cache, cfg ServerConfig) *Server {
	s := &Server{
		engine:   engine,
		artifact: artifactCache,
		cfg:      cfg,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()

	var handler http.Handler = s.router
	if cfg.EnableCORS {
		handler = CorsMiddleware(handler)
	}

	s.httpSrv = &http.Server{
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) Router() http.Handler { return s.httpSrv.Handler }

func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv.Addr = addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
