package http

import (
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pomaicache/sidecar/internal/adapter/http/handlers"
)

func (s *Server) setupRoutes() {
	h := handlers.NewHTTPHandlers(s.engine, s.artifact)

	s.router.HandleFunc("/healthz", h.HandleHealth).Methods("GET")
	s.router.HandleFunc("/v1/stats", h.HandleStats).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if s.cfg.EnablePprof {
		debug := s.router.PathPrefix("/debug/pprof").Subrouter()
		debug.HandleFunc("/", pprof.Index)
		debug.HandleFunc("/cmdline", pprof.Cmdline)
		debug.HandleFunc("/profile", pprof.Profile)
		debug.HandleFunc("/symbol", pprof.Symbol)
		debug.HandleFunc("/trace", pprof.Trace)
		debug.Handle("/goroutine", pprof.Handler("goroutine"))
		debug.Handle("/heap", pprof.Handler("heap"))
		debug.Handle("/allocs", pprof.Handler("allocs"))
		debug.Handle("/block", pprof.Handler("block"))
		debug.Handle("/mutex", pprof.Handler("mutex"))
	}
}
