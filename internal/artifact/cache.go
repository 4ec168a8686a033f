// Package artifact layers AI-workload semantics (canonical key builders,
// metadata envelopes, content-addressed blob dedup, and bulk
// invalidation) on top of the raw entry-table engine.
package artifact

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pomaicache/sidecar/internal/cache"
)

const prefixIndexCap = 4096

type blobInfo struct {
	refcount  int
	sizeBytes int
}

type keyInfo struct {
	meta    Meta
	blob    string
	hits    uint64
	explain string
}

// Value is what Get/MGet return: the metadata envelope plus payload.
type Value struct {
	Meta    Meta
	Payload []byte
}

// MetaJSON renders Meta back to the wire JSON form, for callers that
// need to hand the envelope to a client alongside the payload.
func (v Value) MetaJSON() string { return metaToJSON(v.Meta) }

// Stats are the artifact layer's lifetime counters.
type Stats struct {
	Puts       uint64
	Gets       uint64
	Hits       uint64
	Misses     uint64
	DedupHits  uint64
	DedupBlobs uint64
}

// Cache layers AI-artifact semantics over an *cache.Engine.
type Cache struct {
	engine *cache.Engine
	stats  Stats

	blobIndex   map[string]*blobInfo
	keyIndex    map[string]*keyInfo
	epochIndex  map[string]map[string]struct{}
	modelIndex  map[string]map[string]struct{}
	prefixIndex map[string]map[string]struct{}
}

func New(engine *cache.Engine) *Cache {
	return &Cache{
		engine:      engine,
		blobIndex:   make(map[string]*blobInfo),
		keyIndex:    make(map[string]*keyInfo),
		epochIndex:  make(map[string]map[string]struct{}),
		modelIndex:  make(map[string]map[string]struct{}),
		prefixIndex: make(map[string]map[string]struct{}),
	}
}

// Put stores payload under key with the metadata parsed from metaJSON.
// artifactType must match metaJSON's artifact_type field.
func (c *Cache) Put(artifactType, key, metaJSON string, payload []byte) error {
	meta, err := parseMetaJSON(metaJSON)
	if err != nil {
		return err
	}
	if meta.ArtifactType != artifactType {
		return fmt.Errorf("artifact type mismatch")
	}

	if meta.CreatedAtMs == 0 {
		meta.CreatedAtMs = nowMs()
	}
	if meta.TTLMs == 0 {
		meta.TTLMs = ttlDefaultMs(meta.Owner)
	}
	meta.SizeBytes = len(payload)
	if meta.ContentHash == "" {
		meta.ContentHash = contentHash(payload)
	}
	if meta.MissCost <= 0 {
		meta.MissCost = defaultMissCost(artifactType)
	}

	blobKey := "blob:" + meta.ContentHash
	ttl := time.Duration(meta.TTLMs) * time.Millisecond

	if prev, ok := c.keyIndex[key]; ok {
		c.deindexKey(key, prev)
		if bi, ok := c.blobIndex[prev.blob]; ok && bi.refcount > 0 {
			bi.refcount--
			// Fix over the original: a zero-refcount blob is deleted
			// immediately here too, not only from invalidateKeys.
			if bi.refcount == 0 {
				c.engine.Del([]string{"blob:" + prev.blob})
				delete(c.blobIndex, prev.blob)
			}
		}
	}

	if err := c.engine.Set(blobKey, payload, &ttl, "vector"); err != nil {
		return fmt.Errorf("blob put failed: %w", err)
	}
	if err := c.engine.Set(key, []byte(meta.ContentHash), &ttl, meta.Owner); err != nil {
		return fmt.Errorf("key put failed: %w", err)
	}

	bi, ok := c.blobIndex[meta.ContentHash]
	if !ok {
		bi = &blobInfo{}
		c.blobIndex[meta.ContentHash] = bi
	}
	if bi.refcount > 0 {
		c.stats.DedupHits++
	}
	bi.refcount++
	bi.sizeBytes = len(payload)

	ki := &keyInfo{
		meta: meta,
		blob: meta.ContentHash,
		explain: "admit:score>threshold owner=" + meta.Owner +
			" type=" + meta.ArtifactType,
	}
	c.keyIndex[key] = ki
	c.indexKey(key, meta)

	c.stats.Puts++
	c.stats.DedupBlobs = uint64(len(c.blobIndex))
	return nil
}

// Get fetches key's metadata and payload, ok=false on miss.
func (c *Cache) Get(key string) (Value, bool) {
	c.stats.Gets++
	ki, ok := c.keyIndex[key]
	if !ok {
		c.stats.Misses++
		return Value{}, false
	}
	if _, ok := c.engine.Get(key); !ok {
		c.stats.Misses++
		return Value{}, false
	}
	blob, ok := c.engine.Get("blob:" + ki.blob)
	if !ok {
		c.stats.Misses++
		return Value{}, false
	}
	c.stats.Hits++
	ki.hits++
	return Value{Meta: ki.meta, Payload: blob}, true
}

// MGet fetches several keys; result[i] is the zero Value when Get
// misses on keys[i].
func (c *Cache) MGet(keys []string) []Value {
	out := make([]Value, len(keys))
	for i, k := range keys {
		v, ok := c.Get(k)
		if ok {
			out[i] = v
		}
	}
	return out
}

func (c *Cache) indexKey(key string, meta Meta) {
	if meta.SnapshotEpoch != "" {
		bucket, ok := c.epochIndex[meta.SnapshotEpoch]
		if !ok {
			bucket = make(map[string]struct{})
			c.epochIndex[meta.SnapshotEpoch] = bucket
		}
		bucket[key] = struct{}{}
	}
	if meta.ModelID != "" {
		bucket, ok := c.modelIndex[meta.ModelID]
		if !ok {
			bucket = make(map[string]struct{})
			c.modelIndex[meta.ModelID] = bucket
		}
		bucket[key] = struct{}{}
	}
	limit := len(key)
	if limit > 32 {
		limit = 32
	}
	for i := 1; i <= limit; i++ {
		prefix := key[:i]
		bucket, ok := c.prefixIndex[prefix]
		if !ok {
			bucket = make(map[string]struct{})
			c.prefixIndex[prefix] = bucket
		}
		if len(bucket) < prefixIndexCap {
			bucket[key] = struct{}{}
		}
	}
}

func (c *Cache) deindexKey(key string, ki *keyInfo) {
	if ki.meta.SnapshotEpoch != "" {
		if bucket, ok := c.epochIndex[ki.meta.SnapshotEpoch]; ok {
			delete(bucket, key)
		}
	}
	if ki.meta.ModelID != "" {
		if bucket, ok := c.modelIndex[ki.meta.ModelID]; ok {
			delete(bucket, key)
		}
	}
	limit := len(key)
	if limit > 32 {
		limit = 32
	}
	for i := 1; i <= limit; i++ {
		prefix := key[:i]
		if bucket, ok := c.prefixIndex[prefix]; ok {
			delete(bucket, key)
		}
	}
}

// invalidateKeys is the shared removal path for every bulk invalidation
// entry point: deindex, drop a blob reference (deleting it from the
// engine at refcount zero), then erase the key itself.
func (c *Cache) invalidateKeys(keys map[string]struct{}) int {
	removed := 0
	for k := range keys {
		ki, ok := c.keyIndex[k]
		if !ok {
			continue
		}
		c.deindexKey(k, ki)
		if bi, ok := c.blobIndex[ki.blob]; ok && bi.refcount > 0 {
			bi.refcount--
			if bi.refcount == 0 {
				c.engine.Del([]string{"blob:" + ki.blob})
				delete(c.blobIndex, ki.blob)
			}
		}
		c.engine.Del([]string{k})
		delete(c.keyIndex, k)
		removed++
	}
	c.stats.DedupBlobs = uint64(len(c.blobIndex))
	return removed
}

func (c *Cache) InvalidateEpoch(epoch string) int {
	keys, ok := c.epochIndex[epoch]
	if !ok {
		return 0
	}
	delete(c.epochIndex, epoch)
	return c.invalidateKeys(keys)
}

func (c *Cache) InvalidateModel(modelID string) int {
	keys, ok := c.modelIndex[modelID]
	if !ok {
		return 0
	}
	delete(c.modelIndex, modelID)
	return c.invalidateKeys(keys)
}

func (c *Cache) InvalidatePrefix(prefix string) int {
	keys, ok := c.prefixIndex[prefix]
	if !ok {
		return 0
	}
	delete(c.prefixIndex, prefix)
	return c.invalidateKeys(keys)
}

func (c *Cache) Stats() Stats { return c.stats }

func (c *Cache) StatsReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "puts:%d\n", c.stats.Puts)
	fmt.Fprintf(&b, "gets:%d\n", c.stats.Gets)
	fmt.Fprintf(&b, "hits:%d\n", c.stats.Hits)
	fmt.Fprintf(&b, "misses:%d\n", c.stats.Misses)
	fmt.Fprintf(&b, "dedup_hits:%d\n", c.stats.DedupHits)
	fmt.Fprintf(&b, "blob_count:%d\n", len(c.blobIndex))

	counts := make(map[string]uint64)
	for _, ki := range c.keyIndex {
		counts[ki.meta.ArtifactType]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(&b, "type.%s:%d\n", t, counts[t])
	}
	return b.String()
}

func (c *Cache) TopHot(n int) string {
	type row struct {
		key  string
		hits uint64
	}
	rows := make([]row, 0, len(c.keyIndex))
	for k, ki := range c.keyIndex {
		rows = append(rows, row{k, ki.hits})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].hits == rows[j].hits {
			return rows[i].key < rows[j].key
		}
		return rows[i].hits > rows[j].hits
	})
	var b strings.Builder
	for i := 0; i < n && i < len(rows); i++ {
		fmt.Fprintf(&b, "%s:%d\n", rows[i].key, rows[i].hits)
	}
	return b.String()
}

func (c *Cache) TopCostly(n int) string {
	type row struct {
		key  string
		cost float64
	}
	rows := make([]row, 0, len(c.keyIndex))
	for k, ki := range c.keyIndex {
		rows = append(rows, row{k, ki.meta.MissCost})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].cost == rows[j].cost {
			return rows[i].key < rows[j].key
		}
		return rows[i].cost > rows[j].cost
	})
	var b strings.Builder
	for i := 0; i < n && i < len(rows); i++ {
		fmt.Fprintf(&b, "%s:%g\n", rows[i].key, rows[i].cost)
	}
	return b.String()
}

func (c *Cache) Explain(key string) string {
	ki, ok := c.keyIndex[key]
	if !ok {
		return "MISS:no metadata"
	}
	return ki.explain
}
