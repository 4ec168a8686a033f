package artifact

import (
	"testing"

	"github.com/pomaicache/sidecar/internal/cache"
	"github.com/pomaicache/sidecar/internal/cache/policy"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cfg := cache.DefaultConfig()
	cfg.MemoryLimitBytes = 1 << 20
	e := cache.New(cfg, policy.New("lru"))
	return New(e)
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	meta := `{"artifact_type":"embedding","owner":"vector","schema_version":"v1","model_id":"m1"}`
	if err := c.Put("embedding", EmbeddingKey("m1", "h1", 768, "f32"), meta, []byte("payload-bytes")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok := c.Get(EmbeddingKey("m1", "h1", 768, "f32"))
	if !ok {
		t.Fatalf("expected hit")
	}
	if string(v.Payload) != "payload-bytes" {
		t.Fatalf("unexpected payload %q", v.Payload)
	}
	if v.Meta.MissCost != 8.0 {
		t.Fatalf("expected default embedding miss cost 8.0, got %v", v.Meta.MissCost)
	}
}

func TestPutRejectsMissingRequiredFields(t *testing.T) {
	c := newTestCache(t)
	err := c.Put("prompt", "prm:x", `{"owner":"prompt"}`, []byte("v"))
	if err == nil {
		t.Fatalf("expected error for missing artifact_type/schema_version")
	}
}

func TestPutRejectsTypeMismatch(t *testing.T) {
	c := newTestCache(t)
	meta := `{"artifact_type":"prompt","owner":"prompt","schema_version":"v1"}`
	if err := c.Put("response", "rsp:x", meta, []byte("v")); err == nil {
		t.Fatalf("expected type mismatch error")
	}
}

func TestBlobDedupAcrossIdenticalPayloads(t *testing.T) {
	c := newTestCache(t)
	meta := `{"artifact_type":"rag_chunk","owner":"rag","schema_version":"v1"}`
	c.Put("rag_chunk", "rag:a", meta, []byte("same-payload"))
	c.Put("rag_chunk", "rag:b", meta, []byte("same-payload"))
	if c.Stats().DedupHits != 1 {
		t.Fatalf("expected 1 dedup hit, got %d", c.Stats().DedupHits)
	}
	if c.Stats().DedupBlobs != 1 {
		t.Fatalf("expected 1 distinct blob, got %d", c.Stats().DedupBlobs)
	}
}

func TestInvalidateModelRemovesAllMatchingKeys(t *testing.T) {
	c := newTestCache(t)
	meta := `{"artifact_type":"embedding","owner":"vector","schema_version":"v1","model_id":"gpt-x"}`
	c.Put("embedding", "emb:a", meta, []byte("v1"))
	c.Put("embedding", "emb:b", meta, []byte("v2"))
	n := c.InvalidateModel("gpt-x")
	if n != 2 {
		t.Fatalf("expected 2 invalidated, got %d", n)
	}
	if _, ok := c.Get("emb:a"); ok {
		t.Fatalf("expected emb:a gone after invalidation")
	}
}

func TestInvalidatePrefixRemovesMatchingKeys(t *testing.T) {
	c := newTestCache(t)
	meta := `{"artifact_type":"prompt","owner":"prompt","schema_version":"v1"}`
	c.Put("prompt", "prm:shared:1", meta, []byte("v1"))
	c.Put("prompt", "prm:shared:2", meta, []byte("v2"))
	c.Put("prompt", "prm:other:3", meta, []byte("v3"))
	n := c.InvalidatePrefix("prm:shared:")
	if n != 2 {
		t.Fatalf("expected 2 invalidated under shared prefix, got %d", n)
	}
	if _, ok := c.Get("prm:other:3"); !ok {
		t.Fatalf("expected unrelated prefix key to survive")
	}
}

func TestExplainReportsMissForUnknownKey(t *testing.T) {
	c := newTestCache(t)
	if got := c.Explain("nope"); got != "MISS:no metadata" {
		t.Fatalf("unexpected explain output: %q", got)
	}
}

func TestReplaceAcrossDifferentPayloadsDropsOldBlobAtZeroRefcount(t *testing.T) {
	c := newTestCache(t)
	meta := `{"artifact_type":"response","owner":"response","schema_version":"v1"}`
	c.Put("response", "rsp:x", meta, []byte("first"))
	c.Put("response", "rsp:x", meta, []byte("second"))
	if c.Stats().DedupBlobs != 1 {
		t.Fatalf("expected exactly one live blob after replace, got %d", c.Stats().DedupBlobs)
	}
	v, ok := c.Get("rsp:x")
	if !ok || string(v.Payload) != "second" {
		t.Fatalf("expected second payload, got %q ok=%v", v.Payload, ok)
	}
}
