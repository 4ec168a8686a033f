package cache

import (
	"testing"
	"time"

	"github.com/pomaicache/sidecar/internal/cache/policy"
	"github.com/pomaicache/sidecar/internal/ssd"
)

func newTieredTestEngine(t *testing.T, limitBytes uint64, promotionHits uint64, demotionPressure float64) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MemoryLimitBytes = limitBytes
	cfg.DataDir = t.TempDir()
	cfg.TierWorkPerTick = 64
	e := New(cfg, policy.NewLRU())

	ssdCfg := ssd.DefaultConfig()
	ssdCfg.Enabled = true
	ssdCfg.Dir = t.TempDir()
	ssdCfg.CompactionBatch = 1000
	store := ssd.New(ssdCfg)
	if err := store.Init(); err != nil {
		t.Fatalf("ssd init: %v", err)
	}
	e.SetSSD(store, 4096, promotionHits, demotionPressure)
	return e
}

func TestEvictionDemotesToSSDAndGetStillHits(t *testing.T) {
	e := newTieredTestEngine(t, 12, 1, 0.9)
	if err := e.Set("a", []byte("aaaaa"), nil, "default"); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := e.Set("b", []byte("bbbbb"), nil, "default"); err != nil {
		t.Fatalf("set b: %v", err)
	}
	// Third insert forces eviction of "a" under the tight 12-byte cap.
	if err := e.Set("c", []byte("ccccc"), nil, "default"); err != nil {
		t.Fatalf("set c: %v", err)
	}
	e.Tick()

	if _, ok := e.entries["a"]; ok {
		t.Fatalf("expected a evicted from RAM")
	}
	v, ok := e.Get("a")
	if !ok {
		t.Fatalf("expected a to still be gettable from the SSD tier")
	}
	if string(v) != "aaaaa" {
		t.Fatalf("unexpected value %q", v)
	}
}

func TestRepeatedSSDHitsPromoteBackToRAM(t *testing.T) {
	e := newTieredTestEngine(t, 12, 2, 0.9)
	e.Set("a", []byte("aaaaa"), nil, "default")
	e.Set("b", []byte("bbbbb"), nil, "default")
	e.Set("c", []byte("ccccc"), nil, "default")
	e.Tick()
	if _, ok := e.entries["a"]; ok {
		t.Fatalf("expected a evicted before promotion test begins")
	}

	if _, ok := e.Get("a"); !ok {
		t.Fatalf("expected first SSD hit to succeed")
	}
	if _, ok := e.Get("a"); !ok {
		t.Fatalf("expected second SSD hit to succeed")
	}
	e.Tick()

	if e.tierStats.Promotions == 0 {
		t.Fatalf("expected a promotion to have run after reaching promotionHits")
	}
}

func TestDelRemovesDemotedKeyFromSSD(t *testing.T) {
	e := newTieredTestEngine(t, 12, 1, 0.9)
	e.Set("a", []byte("aaaaa"), nil, "default")
	e.Set("b", []byte("bbbbb"), nil, "default")
	e.Set("c", []byte("ccccc"), nil, "default")
	e.Tick()

	if n := e.Del([]string{"a"}); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if _, ok := e.Get("a"); ok {
		t.Fatalf("expected a gone after Del")
	}
}

func TestPromotionSkippedWhenTTLAlreadyExpired(t *testing.T) {
	e := newTieredTestEngine(t, 12, 1, 0.9)
	ttl := 10 * time.Millisecond
	e.Set("a", []byte("aaaaa"), &ttl, "default")
	e.Set("b", []byte("bbbbb"), nil, "default")
	e.Set("c", []byte("ccccc"), nil, "default")
	e.Tick()
	// One SSD hit reaches promotionHits (1) and queues a promotion that
	// carries a's deadline.
	e.Get("a")

	time.Sleep(20 * time.Millisecond)
	if _, ok := e.Get("a"); ok {
		t.Fatalf("expected expired demoted entry to miss")
	}
	if e.tierStats.Promotions != 0 {
		t.Fatalf("expected the queued promotion to be skipped after its TTL passed, got %d promotions", e.tierStats.Promotions)
	}
}
