// Package tcp is the wire-protocol front end: a gnet event loop that
// frames RESP-like requests, dispatches them onto a shared engine and
// artifact cache under a single per-command mutex, and replies.
package tcp

import (
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/gnet/v2"

	"github.com/pomaicache/sidecar/internal/artifact"
	"github.com/pomaicache/sidecar/internal/cache"
	"github.com/pomaicache/sidecar/internal/protocol"
)

// Config bounds the dispatcher's resource usage; zero values fall back
// to the defaults below.
type Config struct {
	MaxConnections     int
	MaxPendingOut      int
	MaxCmdsPerIter     int
	SlowlogCap         int
	TraceSampleEvery   uint64
}

func DefaultConfig() Config {
	return Config{
		MaxConnections:   10000,
		MaxPendingOut:    1024,
		MaxCmdsPerIter:   256,
		SlowlogCap:       256,
		TraceSampleEvery: 8,
	}
}

const slowlogThreshold = 5 * time.Millisecond

type ServerMetrics struct {
	ActiveConnections atomic.Int64
	TotalRequests     atomic.Uint64
	TotalErrors       atomic.Uint64
	TotalBytes        atomic.Uint64
	StartTime         time.Time
}

func (m *ServerMetrics) GetStats() map[string]interface{} {
	uptime := time.Since(m.StartTime)
	totalReqs := m.TotalRequests.Load()
	totalBytes := m.TotalBytes.Load()
	totalErrors := m.TotalErrors.Load()

	var errorRate float64
	if totalReqs > 0 {
		errorRate = float64(totalErrors) / float64(totalReqs)
	}

	return map[string]interface{}{
		"active_connections": m.ActiveConnections.Load(),
		"total_requests":     totalReqs,
		"total_errors":       totalErrors,
		"total_bytes":        totalBytes,
		"uptime_seconds":     uptime.Seconds(),
		"requests_per_sec":   float64(totalReqs) / uptime.Seconds(),
		"bytes_per_sec":      float64(totalBytes) / uptime.Seconds(),
		"error_rate":         errorRate,
	}
}

type slowlogEntry struct {
	At        time.Time
	Op        string
	Key       string
	LatencyUs int64
}

// Server is the gnet-driven front end. Engine and artifact calls are
// invoked synchronously from whichever goroutine gnet hands the
// connection's traffic callback to; mu is the only thing that makes
// that safe across connections, since the engine itself does no
// internal locking.
type Server struct {
	gnet.BuiltinEventEngine

	engine   *cache.Engine
	artifact *artifact.Cache
	cfg      Config
	metrics  *ServerMetrics
	addr     string
	eng      gnet.Engine

	connections   atomic.Int64
	totalRequests atomic.Uint64
	totalErrors   atomic.Uint64
	totalBytes    atomic.Uint64

	started   atomic.Bool
	startTime time.Time

	multicore    bool
	numEventLoop int
	reusePort    bool

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex

	slowlogMu sync.Mutex
	slowlog   []slowlogEntry
}

type connCtx struct {
	parser     protocol.Parser
	pendingOut int
	traceOn    bool
	rngSeed    string
	reqCount   uint64
	created    int64
}

func NewServer(engine *cache.Engine, artifactCache *artifact.Cache, cfg Config) *Server {
	def := DefaultConfig()
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.MaxPendingOut == 0 {
		cfg.MaxPendingOut = def.MaxPendingOut
	}
	if cfg.MaxCmdsPerIter == 0 {
		cfg.MaxCmdsPerIter = def.MaxCmdsPerIter
	}

	numLoops := runtime.NumCPU()
	if numLoops < 2 {
		numLoops = 2
	}
	if numLoops > 16 {
		numLoops = 16
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		engine:       engine,
		artifact:     artifactCache,
		cfg:          cfg,
		metrics:      &ServerMetrics{StartTime: time.Now()},
		multicore:    true,
		numEventLoop: numLoops,
		reusePort:    true,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Server) ListenAndServe(addr string) error {
	s.addr = addr
	s.startTime = time.Now()
	s.started.Store(true)

	log.Printf("[TCP] Starting Gnet Server on %s", addr)
	log.Printf("[TCP] Event Loops: %d (CPU: %d)", s.numEventLoop, runtime.NumCPU())
	log.Printf("[TCP] Multicore: %v", s.multicore)
	log.Printf("[TCP] Max connections: %d", s.cfg.MaxConnections)

	return gnet.Run(s, "tcp://"+addr,
		gnet.WithMulticore(s.multicore),
		gnet.WithReusePort(s.reusePort),
		gnet.WithTCPKeepAlive(time.Minute),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithReadBufferCap(256*1024),
		gnet.WithWriteBufferCap(256*1024),
		gnet.WithNumEventLoop(s.numEventLoop),
		gnet.WithTicker(true),
		gnet.WithSocketRecvBuffer(512*1024),
		gnet.WithSocketSendBuffer(512*1024),
		gnet.WithLoadBalancing(gnet.LeastConnections),
	)
}

func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.eng = eng
	log.Printf("[TCP] Server booted successfully")
	return gnet.None
}

func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	if s.cfg.MaxConnections > 0 && int(s.connections.Load()) >= s.cfg.MaxConnections {
		log.Printf("[TCP] rejecting connection: max_connections reached")
		return nil, gnet.Close
	}
	s.connections.Add(1)

	cc := &connCtx{
		rngSeed: uuid.NewString(),
		created: time.Now().UnixNano(),
	}
	c.SetContext(cc)

	return nil, gnet.None
}

func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	s.connections.Add(-1)

	if err != nil {
		s.totalErrors.Add(1)
	}

	return gnet.None
}

// OnTraffic feeds newly-arrived bytes into the connection's parser and
// dispatches every complete command it yields, up to MaxCmdsPerIter;
// anything left over stays buffered in the parser for the next call.
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	data, err := c.Next(-1)
	if err != nil {
		s.totalErrors.Add(1)
		return gnet.Close
	}

	cc := c.Context().(*connCtx)
	cc.parser.Feed(data)
	s.totalBytes.Add(uint64(len(data)))

	// pendingOut counts the reply of the command being dispatched; every
	// reply is written before the next command is parsed, so it is back
	// to zero at each loop check and processed is what bounds the loop.
	cc.pendingOut = 0
	processed := 0
	for processed < s.cfg.MaxCmdsPerIter && cc.pendingOut < s.cfg.MaxPendingOut {
		cmd, ok := cc.parser.NextCommand()
		if !ok {
			break
		}
		processed++
		cc.reqCount++
		cc.pendingOut++

		reply := s.dispatch(cmd, cc)
		c.Write([]byte(reply))
		cc.pendingOut--
		s.totalRequests.Add(1)
	}

	return gnet.None
}

func (s *Server) OnTick() (time.Duration, gnet.Action) {
	select {
	case <-s.ctx.Done():
		return 0, gnet.Shutdown
	default:
	}

	if !s.started.Load() {
		return time.Minute, gnet.None
	}

	uptime := time.Since(s.startTime)
	conns := s.connections.Load()
	reqs := s.totalRequests.Load()
	errs := s.totalErrors.Load()
	bytes := s.totalBytes.Load()

	rps := float64(0)
	bps := float64(0)
	errorRate := float64(0)

	if uptime.Seconds() > 0 {
		rps = float64(reqs) / uptime.Seconds()
		bps = float64(bytes) / uptime.Seconds() / 1024 / 1024
	}

	if reqs > 0 {
		errorRate = float64(errs) / float64(reqs) * 100
	}

	log.Printf("[TCP] Conns: %d | Reqs: %d | RPS: %.0f | BW: %.2f MB/s | Errors: %.2f%%",
		conns, reqs, rps, bps, errorRate)

	return 30 * time.Second, gnet.None
}

func (s *Server) Shutdown(timeout time.Duration) error {
	log.Println("[TCP] Shutting down...")

	if !s.started.Swap(false) {
		log.Println("[TCP] Server is not running or already stopped.")
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.mu.Lock()
	eng := s.eng
	s.mu.Unlock()

	log.Println("[TCP] Stopping gnet engine...")
	if err := eng.Stop(ctx); err != nil {
		log.Printf("[TCP] Error stopping engine: %v", err)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if s.connections.Load() == 0 {
			log.Println("[TCP] All connections closed")
			break
		}
		<-ticker.C
	}

	active := s.connections.Load()
	if active > 0 {
		log.Printf("[TCP] Warning: %d connections still active", active)
	}

	log.Println("[TCP] Shutdown complete")
	return nil
}

func (s *Server) Stats() map[string]interface{} {
	uptime := time.Since(s.startTime)
	reqs := s.totalRequests.Load()
	bytes := s.totalBytes.Load()
	errs := s.totalErrors.Load()

	rps := float64(0)
	bps := float64(0)
	errorRate := float64(0)

	if uptime.Seconds() > 0 {
		rps = float64(reqs) / uptime.Seconds()
		bps = float64(bytes) / uptime.Seconds()
	}

	if reqs > 0 {
		errorRate = float64(errs) / float64(reqs) * 100
	}

	return map[string]interface{}{
		"server_type":        "gnet",
		"connections":        s.connections.Load(),
		"total_requests":     reqs,
		"total_errors":       errs,
		"total_bytes":        bytes,
		"uptime_seconds":     uptime.Seconds(),
		"requests_per_sec":   rps,
		"bytes_per_sec":      bps,
		"error_rate_percent": errorRate,
		"multicore":          s.multicore,
		"event_loops":        s.numEventLoop,
	}
}

func (s *Server) GetMetrics() map[string]interface{} {
	return s.Stats()
}
