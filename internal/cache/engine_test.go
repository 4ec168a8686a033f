package cache

import (
	"testing"
	"time"

	"github.com/pomaicache/sidecar/internal/cache/policy"
)

func newTestEngine(limitBytes uint64, polName string) *Engine {
	cfg := DefaultConfig()
	cfg.MemoryLimitBytes = limitBytes
	cfg.DataDir = "."
	return New(cfg, policy.New(polName))
}

func TestSetGetRoundTrip(t *testing.T) {
	e := newTestEngine(1<<20, "lru")
	if err := e.Set("k1", []byte("v1"), nil, "default"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok := e.Get("k1")
	if !ok || string(v) != "v1" {
		t.Fatalf("expected v1, got %q ok=%v", v, ok)
	}
}

func TestGetMissOnUnknownKey(t *testing.T) {
	e := newTestEngine(1<<20, "lru")
	if _, ok := e.Get("missing"); ok {
		t.Fatalf("expected miss")
	}
	if e.Stats().Misses != 1 {
		t.Fatalf("expected 1 miss, got %d", e.Stats().Misses)
	}
}

func TestLRUEvictsOldestUnderTightCap(t *testing.T) {
	e := newTestEngine(10, "lru")
	e.Set("a", []byte("12345"), nil, "default")
	time.Sleep(2 * time.Millisecond)
	e.Set("b", []byte("12345"), nil, "default")
	time.Sleep(2 * time.Millisecond)
	// Touch "b" so "a" becomes the oldest-accessed entry.
	e.Get("b")
	// Forces eviction: table already at the 10 byte cap.
	e.Set("c", []byte("12345"), nil, "default")

	if _, ok := e.Get("a"); ok {
		t.Fatalf("expected a evicted as least recently used")
	}
	if _, ok := e.Get("b"); !ok {
		t.Fatalf("expected b to survive")
	}
}

func TestMillisecondTTLExpires(t *testing.T) {
	e := newTestEngine(1<<20, "lru")
	ttl := 5 * time.Millisecond
	e.Set("k", []byte("v"), &ttl, "default")
	if _, ok := e.Get("k"); !ok {
		t.Fatalf("expected key present before expiry")
	}
	time.Sleep(15 * time.Millisecond)
	if _, ok := e.Get("k"); ok {
		t.Fatalf("expected key expired")
	}
	if e.Stats().Expirations != 1 {
		t.Fatalf("expected 1 expiration, got %d", e.Stats().Expirations)
	}
}

func TestTTLReturnsRemainingSeconds(t *testing.T) {
	e := newTestEngine(1<<20, "lru")
	e.Set("no-ttl", []byte("v"), nil, "default")
	secs, ok := e.TTL("no-ttl")
	if !ok || secs != -1 {
		t.Fatalf("expected -1 for no ttl, got %d ok=%v", secs, ok)
	}
	if _, ok := e.TTL("absent"); ok {
		t.Fatalf("expected absent key to report ok=false")
	}
}

func TestExpireSetsDeadline(t *testing.T) {
	e := newTestEngine(1<<20, "lru")
	e.Set("k", []byte("v"), nil, "default")
	if !e.Expire("k", 0) {
		t.Fatalf("expected expire to succeed on present key")
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok := e.Get("k"); ok {
		t.Fatalf("expected immediate expiry after Expire with ttl 0")
	}
	if e.Expire("nope", 10) {
		t.Fatalf("expected expire on absent key to fail")
	}
}

func TestDelReturnsCountPresent(t *testing.T) {
	e := newTestEngine(1<<20, "lru")
	e.Set("a", []byte("1"), nil, "default")
	e.Set("b", []byte("1"), nil, "default")
	n := e.Del([]string{"a", "b", "c"})
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
}

func TestOwnerQuotaRejectsOverLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimitBytes = 1 << 20
	p := policy.NewCost()
	params := p.Params()
	params.OwnerCapBytes = 5
	p.SetParams(params)
	e := New(cfg, p)

	if err := e.Set("k1", []byte("12345"), nil, "tenantA"); err != nil {
		t.Fatalf("expected first set within cap to succeed: %v", err)
	}
	err := e.Set("k2", []byte("12345"), nil, "tenantA")
	if err == nil {
		t.Fatalf("expected quota rejection")
	}
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != KindQuotaExceeded {
		t.Fatalf("expected KindQuotaExceeded, got %v", err)
	}
}

func TestOwnerQuotaReplaceAcrossOwnersDoesNotLeakTally(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimitBytes = 1 << 20
	p := policy.NewCost()
	params := p.Params()
	params.OwnerCapBytes = 5
	p.SetParams(params)
	e := New(cfg, p)

	if err := e.Set("shared", []byte("12345"), nil, "tenantA"); err != nil {
		t.Fatalf("set tenantA: %v", err)
	}
	// Replace with a different owner; tenantA's usage must drop to zero
	// rather than staying charged for an entry it no longer owns.
	if err := e.Set("shared", []byte("12345"), nil, "tenantB"); err != nil {
		t.Fatalf("set tenantB: %v", err)
	}
	if err := e.Set("k2", []byte("12345"), nil, "tenantA"); err != nil {
		t.Fatalf("expected tenantA to have free quota after replace, got: %v", err)
	}
}

func TestValueTooLargeRejected(t *testing.T) {
	e := newTestEngine(1<<20, "lru")
	cfg := DefaultConfig()
	_ = cfg
	big := make([]byte, e.cfg.MaxValueSize+1)
	err := e.Set("k", big, nil, "default")
	if err == nil {
		t.Fatalf("expected rejection for oversized value")
	}
}

func TestMGetMixedHitsAndMisses(t *testing.T) {
	e := newTestEngine(1<<20, "lru")
	e.Set("a", []byte("1"), nil, "default")
	out := e.MGet([]string{"a", "b"})
	if string(out[0]) != "1" || out[1] != nil {
		t.Fatalf("unexpected MGet result: %v", out)
	}
}

func TestReloadParamsClampsOutOfRangeFields(t *testing.T) {
	e := newTestEngine(1<<20, "pomai_cost")
	err := e.ReloadParams(`{"w_miss": 5000, "evict_pressure": 0.0, "version": "v2"}`)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	p := e.policy.Params()
	if p.WMiss != 1000.0 {
		t.Fatalf("expected w_miss clamped to 1000, got %v", p.WMiss)
	}
	if p.EvictPressure != 0.1 {
		t.Fatalf("expected evict_pressure clamped to 0.1, got %v", p.EvictPressure)
	}
	if p.Version != "v2" {
		t.Fatalf("expected version v2, got %v", p.Version)
	}
}

func TestReloadParamsRejectsMalformedSchema(t *testing.T) {
	e := newTestEngine(1<<20, "pomai_cost")
	if err := e.ReloadParams("not json at all"); err == nil {
		t.Fatalf("expected invalid schema error")
	}
}

func TestReloadParamsArmsCanaryInsteadOfControl(t *testing.T) {
	e := newTestEngine(1<<20, "pomai_cost")
	e.SetCanaryPct(50)
	controlBefore := e.controlParams
	if err := e.ReloadParams(`{"version": "canary-v2"}`); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if e.controlParams != controlBefore {
		t.Fatalf("expected control params untouched while canary armed")
	}
	if !e.canaryActive {
		t.Fatalf("expected canary active after reload with nonzero pct")
	}
	if e.canaryParams.Version != "canary-v2" {
		t.Fatalf("expected canary params to carry new version")
	}
}

func TestRollbackToLKGRestoresPersistedParams(t *testing.T) {
	e := newTestEngine(1<<20, "pomai_cost")
	if err := e.ReloadParams(`{"version": "v-lkg", "w_miss": 3.0}`); err != nil {
		t.Fatalf("reload: %v", err)
	}
	// Mutate control params in place without persisting, then roll back.
	e.controlParams.Version = "mutated"
	e.policy.SetParams(e.controlParams)

	if err := e.RollbackToLKG(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if e.controlParams.Version != "v-lkg" {
		t.Fatalf("expected control version restored to v-lkg, got %v", e.controlParams.Version)
	}
}

func TestIsCanaryKeyStableAcrossCalls(t *testing.T) {
	e := newTestEngine(1<<20, "lru")
	e.canaryActive = true
	e.canaryPct = 50
	first := e.isCanaryKey("stable-key")
	for i := 0; i < 10; i++ {
		if e.isCanaryKey("stable-key") != first {
			t.Fatalf("expected deterministic cohort assignment across calls")
		}
	}
}

func TestBucketForRounding(t *testing.T) {
	cases := []struct {
		size int
		want int
	}{
		{1, 64}, {64, 64}, {65, 128}, {256, 256}, {257, 512},
		{1024, 1024}, {1025, 1536}, {4096, 4096}, {4097, 8192},
	}
	for _, c := range cases {
		if got := bucketFor(c.size); got != c.want {
			t.Fatalf("bucketFor(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}
