// Package config resolves the server's settings in precedence order:
// CLI flags win over environment variables (loaded from an optional
// .env via godotenv), which win over the documented defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/pomaicache/sidecar/internal/cache"
	"github.com/pomaicache/sidecar/internal/ssd"
)

// Config is the fully-resolved set of knobs cmd/server needs to build
// an Engine, an SSD store, and the TCP/HTTP adapters.
type Config struct {
	Port     int
	HTTPPort int

	MemoryBytes uint64
	Policy      string
	ParamsPath  string
	DataDir     string

	SSDEnabled        bool
	SSDValueMinBytes  int
	SSDMaxBytes       uint64
	PromotionHits     uint64
	DemotionPressure  float64
	SSDReadMBs        uint64
	SSDWriteMBs       uint64
	Fsync             string

	MaxConnections  int
	MaxPendingOut   int
	MaxCmdsPerIter  int
	ShutdownTimeout time.Duration
}

func Default() Config {
	return Config{
		Port:             7600,
		HTTPPort:         8080,
		MemoryBytes:      64 * 1024 * 1024,
		Policy:           "pomai_cost",
		ParamsPath:       "",
		DataDir:          "./data",
		SSDEnabled:       false,
		SSDValueMinBytes: 32 * 1024,
		SSDMaxBytes:      2 * 1024 * 1024 * 1024,
		PromotionHits:    3,
		DemotionPressure: 0.8,
		SSDReadMBs:       256,
		SSDWriteMBs:      256,
		Fsync:            "everysec",
		MaxConnections:   10000,
		MaxPendingOut:    1024,
		MaxCmdsPerIter:   256,
		ShutdownTimeout:  30 * time.Second,
	}
}

// Load reads an optional .env file, then parses flags over env-var
// defaults so an explicitly passed flag always wins.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()

	d := Default()
	fs := flag.NewFlagSet("pomai-cache-sidecar", flag.ContinueOnError)

	port := fs.Int("port", getenvInt("PORT", d.Port), "TCP protocol port")
	httpPort := fs.Int("http-port", getenvInt("HTTP_PORT", d.HTTPPort), "admin/metrics HTTP port")
	memory := fs.Uint64("memory", getenvUint64("MEMORY_BYTES", d.MemoryBytes), "RAM budget in bytes")
	policyName := fs.String("policy", getenv("POLICY", d.Policy), "eviction policy: lru, lfu, pomai_cost")
	paramsPath := fs.String("params", getenv("PARAMS_PATH", d.ParamsPath), "path to a policy params file to load at boot")
	dataDir := fs.String("data-dir", getenv("DATA_DIR", d.DataDir), "directory for SSD segments and last-known-good params")

	ssdEnabled := fs.Bool("ssd-enabled", getenvBool("SSD_ENABLED", d.SSDEnabled), "enable the SSD overflow tier")
	ssdValueMinBytes := fs.Int("ssd-value-min-bytes", getenvInt("SSD_VALUE_MIN_BYTES", d.SSDValueMinBytes), "values smaller than this are eligible for RAM promotion")
	ssdMaxBytes := fs.Uint64("ssd-max-bytes", getenvUint64("SSD_MAX_BYTES", d.SSDMaxBytes), "SSD tier capacity in bytes")
	promotionHits := fs.Uint64("promotion-hits", getenvUint64("PROMOTION_HITS", d.PromotionHits), "SSD hits before a key is promoted back to RAM")
	demotionPressure := fs.Float64("demotion-pressure", getenvFloat64("DEMOTION_PRESSURE", d.DemotionPressure), "memory_used/memory_limit ratio that triggers proactive demotion")
	ssdReadMBs := fs.Uint64("ssd-read-mb-s", getenvUint64("SSD_READ_MB_S", d.SSDReadMBs), "SSD read throttle in MB/s")
	ssdWriteMBs := fs.Uint64("ssd-write-mb-s", getenvUint64("SSD_WRITE_MB_S", d.SSDWriteMBs), "SSD write throttle in MB/s")
	fsync := fs.String("fsync", getenv("FSYNC", d.Fsync), "fsync policy: never, everysec, always")

	maxConnections := fs.Int("max-connections", getenvInt("MAX_CONNECTIONS", d.MaxConnections), "maximum concurrent TCP connections")
	maxPendingOut := fs.Int("max-pending-out", getenvInt("MAX_PENDING_OUT", d.MaxPendingOut), "maximum unflushed replies per connection per iteration")
	maxCmdsPerIter := fs.Int("max-cmds-per-iteration", getenvInt("MAX_CMDS_PER_ITERATION", d.MaxCmdsPerIter), "maximum commands dispatched per OnTraffic call")
	shutdownTimeout := fs.Duration("shutdown-timeout", getenvDuration("SHUTDOWN_TIMEOUT", d.ShutdownTimeout), "graceful shutdown deadline")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:             *port,
		HTTPPort:         *httpPort,
		MemoryBytes:      *memory,
		Policy:           *policyName,
		ParamsPath:       *paramsPath,
		DataDir:          *dataDir,
		SSDEnabled:       *ssdEnabled,
		SSDValueMinBytes: *ssdValueMinBytes,
		SSDMaxBytes:      *ssdMaxBytes,
		PromotionHits:    *promotionHits,
		DemotionPressure: *demotionPressure,
		SSDReadMBs:       *ssdReadMBs,
		SSDWriteMBs:      *ssdWriteMBs,
		Fsync:            *fsync,
		MaxConnections:   *maxConnections,
		MaxPendingOut:    *maxPendingOut,
		MaxCmdsPerIter:   *maxCmdsPerIter,
		ShutdownTimeout:  *shutdownTimeout,
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Policy {
	case "lru", "lfu", "pomai_cost":
	default:
		return fmt.Errorf("invalid --policy %q: must be lru, lfu, or pomai_cost", c.Policy)
	}
	switch c.Fsync {
	case "never", "everysec", "always":
	default:
		return fmt.Errorf("invalid --fsync %q: must be never, everysec, or always", c.Fsync)
	}
	if c.DemotionPressure < 0 || c.DemotionPressure > 1 {
		return fmt.Errorf("--demotion-pressure must be in [0,1], got %f", c.DemotionPressure)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid --port %d", c.Port)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid --http-port %d", c.HTTPPort)
	}
	return nil
}

// EngineConfig builds the cache engine config this Config describes.
func (c Config) EngineConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.MemoryLimitBytes = c.MemoryBytes
	cfg.DataDir = c.DataDir
	return cfg
}

// SSDConfig builds the SSD tier config this Config describes.
func (c Config) SSDConfig() ssd.Config {
	cfg := ssd.DefaultConfig()
	cfg.Enabled = c.SSDEnabled
	cfg.Dir = c.DataDir
	cfg.ValueMinBytes = c.SSDValueMinBytes
	cfg.MaxBytes = c.SSDMaxBytes
	cfg.MaxReadMBs = c.SSDReadMBs
	cfg.MaxWriteMBs = c.SSDWriteMBs
	switch c.Fsync {
	case "never":
		cfg.Fsync = ssd.FsyncNever
	case "always":
		cfg.Fsync = ssd.FsyncAlways
	default:
		cfg.Fsync = ssd.FsyncEverySec
	}
	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvUint64(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat64(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
