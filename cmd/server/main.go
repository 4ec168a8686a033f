// File: cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	httpAdapter "github.com/pomaicache/sidecar/internal/adapter/http"
	tcpAdapter "github.com/pomaicache/sidecar/internal/adapter/tcp"
	"github.com/pomaicache/sidecar/internal/artifact"
	"github.com/pomaicache/sidecar/internal/cache"
	"github.com/pomaicache/sidecar/internal/cache/policy"
	"github.com/pomaicache/sidecar/internal/config"
	"github.com/pomaicache/sidecar/internal/ssd"
	"github.com/pomaicache/sidecar/internal/telemetry"
)

const (
	Version     = "1.0.0-sidecar"
	ServiceName = "Pomai Cache Sidecar"
)

func init() {
	applyRuntimeTuning()
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	printBanner(cfg)

	log.Println("[ENGINE] Initializing components...")

	eng := cache.New(cfg.EngineConfig(), policy.New(cfg.Policy))

	if cfg.SSDEnabled {
		store := ssd.New(cfg.SSDConfig())
		if err := store.Init(); err != nil {
			log.Fatalf("[SSD] init failed: %v", err)
		}
		eng.SetSSD(store, cfg.SSDValueMinBytes, cfg.PromotionHits, cfg.DemotionPressure)
		log.Printf("[SSD] Tier enabled: dir=%s max_bytes=%s fsync=%s", cfg.DataDir, formatBytes(int64(cfg.SSDMaxBytes)), cfg.Fsync)
	}

	if cfg.ParamsPath != "" {
		text, err := os.ReadFile(cfg.ParamsPath)
		if err != nil {
			log.Fatalf("[ENGINE] failed to read --params file: %v", err)
		}
		if err := eng.ReloadParams(string(text)); err != nil {
			log.Fatalf("[ENGINE] failed to load --params file: %v", err)
		}
		log.Printf("[ENGINE] Loaded policy params from %s", cfg.ParamsPath)
	}

	artifactCache := artifact.New(eng)

	collector := telemetry.NewCollector(eng, artifactCache)
	prometheus.MustRegister(collector)

	httpSrv, tcpSrv := startServers(cfg, eng, artifactCache)

	log.Println("")
	log.Println("========================================")
	log.Println("Pomai Cache Sidecar is running!")
	log.Println("========================================")
	log.Println("")

	gracefulShutdown(cfg, httpSrv, tcpSrv)
}

func applyRuntimeTuning() {
	numCPU := runtime.NumCPU()
	runtime.GOMAXPROCS(numCPU)
}

func startServers(cfg config.Config, eng *cache.Engine, artifactCache *artifact.Cache) (*httpAdapter.Server, *tcpAdapter.Server) {
	httpPort := fmt.Sprintf("%d", cfg.HTTPPort)
	log.Printf("[HTTP] Starting admin server on :%s...", httpPort)

	httpConfig := httpAdapter.DefaultServerConfig()
	httpConfig.Port = cfg.HTTPPort
	httpSrv := httpAdapter.NewServerWithConfig(eng, artifactCache, httpConfig)

	go func() {
		if err := httpSrv.ListenAndServe(fmt.Sprintf(":%d", cfg.HTTPPort)); err != nil {
			log.Fatalf("[HTTP] server error: %v", err)
		}
	}()

	log.Printf("[TCP] Starting Gnet TCP server on :%d...", cfg.Port)

	tcpConfig := tcpAdapter.Config{
		MaxConnections: cfg.MaxConnections,
		MaxPendingOut:  cfg.MaxPendingOut,
		MaxCmdsPerIter: cfg.MaxCmdsPerIter,
	}
	tcpSrv := tcpAdapter.NewServer(eng, artifactCache, tcpConfig)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := tcpSrv.ListenAndServe(addr); err != nil {
			log.Fatalf("[TCP] server error: %v", err)
		}
	}()

	return httpSrv, tcpSrv
}

func gracefulShutdown(cfg config.Config, httpSrv *httpAdapter.Server, tcpSrv *tcpAdapter.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigCh
	log.Printf("\nSignal received: %v", sig)
	log.Println("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	log.Println("[HTTP] Stopping admin server...")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[HTTP] shutdown error: %v", err)
	}

	log.Println("[TCP] Stopping protocol server...")
	if err := tcpSrv.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Printf("[TCP] shutdown error: %v", err)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.Printf("Memory: Alloc=%s, Sys=%s, NumGC=%d",
		formatBytes(int64(m.Alloc)), formatBytes(int64(m.Sys)), m.NumGC)

	debug.FreeOSMemory()
	log.Println("\nShutdown complete. Goodbye!")
}

func printBanner(cfg config.Config) {
	banner := `
========================================
   POMAI CACHE SIDECAR v%s
========================================
  In-Process AI-Inference Cache Engine
    SSD Overflow Tier + Canary Rollout
========================================

System:
  Go:             %s
  CPU:            %d cores
  GOMAXPROCS:     %d
  Platform:       %s/%s

Config:
  TCP:            :%d (Gnet)
  HTTP (admin):   :%d
  Policy:         %s
  Memory Budget:  %s
  Data Dir:       %s
  SSD Tier:       %v

Endpoints:
  Health:         http://localhost:%d/healthz
  Metrics:        http://localhost:%d/metrics
  Stats:          http://localhost:%d/v1/stats

========================================
`
	fmt.Printf(banner,
		Version,
		runtime.Version(),
		runtime.NumCPU(),
		runtime.GOMAXPROCS(0),
		runtime.GOOS,
		runtime.GOARCH,
		cfg.Port,
		cfg.HTTPPort,
		cfg.Policy,
		formatBytes(int64(cfg.MemoryBytes)),
		cfg.DataDir,
		cfg.SSDEnabled,
		cfg.HTTPPort,
		cfg.HTTPPort,
		cfg.HTTPPort,
	)
}

func formatBytes(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}

	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
