package cache

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/pomaicache/sidecar/internal/cache/policy"
	"github.com/pomaicache/sidecar/internal/ssd"
)

// cohortStats tracks request counts and a bounded latency sample ring for
// one canary cohort (control or candidate).
type cohortStats struct {
	gets       uint64
	hits       uint64
	latencyUs  []uint64
}

const cohortLatencyCap = 2048

func (c *cohortStats) recordLatency(d time.Duration) {
	us := d.Microseconds()
	if us < 0 {
		us = 0
	}
	c.latencyUs = append(c.latencyUs, uint64(us))
	if len(c.latencyUs) > cohortLatencyCap {
		c.latencyUs = c.latencyUs[1:]
	}
}

func p99FromSamples(samples []uint64) uint64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]uint64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted) - 1) * 99 / 100
	return sorted[idx]
}

// Engine is the non-concurrent entry table. Callers must serialize access
// to a single Engine instance themselves (see internal/adapter/tcp).
type Engine struct {
	cfg    Config
	policy policy.Policy

	entries          map[string]*Entry
	expiryGeneration map[string]uint64
	expiryHeap       expiryHeap

	ownerMissCostDefault map[string]float64
	ownerUsage           map[string]uint64

	stats       Stats
	memoryUsed  uint64
	bucketUsed  uint64
	expirationBacklog int

	canaryPct    uint64
	canaryActive bool
	controlParams policy.Params
	canaryParams  policy.Params

	controlStats cohortStats
	canaryStats  cohortStats

	canaryStart        time.Time
	lastGuardrailEval  time.Time
	baselineEvictions  uint64
	rollbackEvents     uint64
	lastCanaryEvent    string

	ssd              *ssd.Store
	ssdValueMinBytes int
	promotionHits    uint64
	demotionPressure float64
	ssdHitCount      map[string]uint64
	ssdSeq           uint64
	promoteQueue     *list.List
	demoteQueue      *list.List
	tierStats        TierStats
}

func New(cfg Config, p policy.Policy) *Engine {
	e := &Engine{
		cfg:              cfg,
		policy:           p,
		entries:          make(map[string]*Entry),
		expiryGeneration: make(map[string]uint64),
		ownerMissCostDefault: map[string]float64{
			"default":  1.0,
			"premium":  2.0,
			"vector":   8.0,
			"prompt":   2.0,
			"rag":      3.0,
			"rerank":   4.0,
			"response": 5.0,
		},
		ownerUsage:        make(map[string]uint64),
		canaryStart:       time.Now(),
		lastGuardrailEval: time.Now(),
		lastCanaryEvent:   "none",
		ssdHitCount:       make(map[string]uint64),
		promoteQueue:      list.New(),
		demoteQueue:       list.New(),
	}
	e.controlParams = p.Params()
	return e
}

func (e *Engine) lkgPath() string {
	return filepath.Join(e.cfg.DataDir, ".pomai_lkg_params.json")
}

func (e *Engine) viewOf(entry *Entry) policy.EntryView {
	return policy.EntryView{LastAccess: entry.LastAccess, HitCount: entry.HitCount, SizeBytes: entry.SizeBytes}
}

func (e *Engine) ownerMissCost(owner string) float64 {
	if v, ok := e.ownerMissCostDefault[owner]; ok {
		return v
	}
	return 1.0
}

func bucketFor(size int) int {
	switch {
	case size <= 64:
		return 64
	case size <= 128:
		return 128
	case size <= 256:
		return 256
	case size <= 512:
		return 512
	case size <= 1024:
		return 1024
	case size <= 4096:
		return ((size + 511) / 512) * 512
	default:
		return ((size + 4095) / 4096) * 4096
	}
}

func (e *Engine) cohortFor(key string) *cohortStats {
	if e.isCanaryKey(key) {
		return &e.canaryStats
	}
	return &e.controlStats
}

func (e *Engine) isCanaryKey(key string) bool {
	if !e.canaryActive || e.canaryPct == 0 {
		return false
	}
	return fnv1a64(key)%100 < e.canaryPct
}

// Set inserts or replaces key. ttl of nil means no expiry.
func (e *Engine) Set(key string, value []byte, ttl *time.Duration, owner string) error {
	start := time.Now()
	e.Tick()

	if key == "" || len(key) > e.cfg.MaxKeyLen {
		return newErr(KindInvalidArgument, "invalid key length")
	}
	if len(value) > e.cfg.MaxValueSize {
		return newErr(KindValueTooLarge, "value too large")
	}

	normalizedOwner := owner
	if normalizedOwner == "" {
		normalizedOwner = "default"
	}

	ownerCap := e.policy.Params().OwnerCapBytes
	ownerUsed := e.ownerUsage[normalizedOwner]
	old, hadOld := e.entries[key]
	if hadOld && old.Owner == normalizedOwner {
		ownerUsed -= uint64(old.SizeBytes)
	}
	if ownerCap > 0 && ownerUsed+uint64(len(value)) > ownerCap {
		return newErr(KindQuotaExceeded, "owner quota exceeded")
	}

	candidate := &Entry{
		Value:      value,
		SizeBytes:  len(value),
		CreatedAt:  time.Now(),
		LastAccess: time.Now(),
		Owner:      normalizedOwner,
	}
	if ttl != nil {
		deadline := time.Now().Add(*ttl)
		candidate.TTLDeadline = &deadline
	}

	cv := policy.Candidate{Key: key, Entry: e.viewOf(candidate), MissCost: e.ownerMissCost(candidate.Owner)}
	original := e.policy.Params()
	if e.isCanaryKey(key) && e.canaryActive {
		e.policy.SetParams(e.canaryParams)
	} else {
		e.policy.SetParams(e.controlParams)
	}
	admitted := e.policy.ShouldAdmit(cv)
	e.policy.SetParams(original)
	if !admitted {
		e.stats.AdmissionsRejected++
		return newErr(KindAdmissionRejected, "admission rejected")
	}

	if e.ssd != nil && len(value) >= e.ssdValueMinBytes {
		if err := e.ssd.Put(key, value, candidate.TTLDeadline, e.nextSSDSeq()); err != nil {
			switch err {
			case ssd.ErrRateLimited:
				return newErr(KindRateLimited, "ssd rate limited")
			case ssd.ErrTierFull:
				return newErr(KindSSDFull, "ssd tier full")
			default:
				return newErr(KindIOError, err.Error())
			}
		}
		if hadOld {
			e.eraseInternal(key, false, false)
		}
		delete(e.ssdHitCount, key)
		e.cohortFor(key).recordLatency(time.Since(start))
		return nil
	}

	e.insertEntry(key, candidate, hadOld, old)

	e.cohortFor(key).recordLatency(time.Since(start))
	return nil
}

// insertEntry commits candidate under key, replacing old (if hadOld),
// and runs the usual post-insert bookkeeping: policy hooks, TTL heap
// push, and capacity eviction. Used both by Set (after validation and
// admission) and by tier promotion (which bypasses both, mirroring the
// original's unconditional SSD-hit promotion).
func (e *Engine) insertEntry(key string, candidate *Entry, hadOld bool, old *Entry) {
	if hadOld {
		// Quota/memory deltas are computed per owner explicitly so a
		// cross-owner replace never debits the wrong owner's tally.
		e.ownerUsage[old.Owner] -= uint64(old.SizeBytes)
		e.memoryUsed -= uint64(old.SizeBytes)
		e.bucketUsed -= uint64(bucketFor(old.SizeBytes))
		e.policy.OnErase(key)
	}

	e.entries[key] = candidate
	e.ownerUsage[candidate.Owner] += uint64(candidate.SizeBytes)
	e.memoryUsed += uint64(candidate.SizeBytes)
	e.bucketUsed += uint64(bucketFor(candidate.SizeBytes))
	e.policy.OnInsert(key, e.viewOf(candidate))

	if candidate.TTLDeadline != nil {
		e.expiryGeneration[key]++
		e.expiryHeap.push(expiryNode{deadline: *candidate.TTLDeadline, key: key, generation: e.expiryGeneration[key]})
	}

	e.evictUntilFit()
}

// promoteIntoRAM commits an SSD-sourced value directly into the entry
// table, bypassing Tick and admission control, matching the original's
// unconditional promotion-on-hit behavior.
func (e *Engine) promoteIntoRAM(key string, value []byte, ttlDeadline *time.Time, owner string) {
	old, hadOld := e.entries[key]
	candidate := &Entry{
		Value:       value,
		SizeBytes:   len(value),
		CreatedAt:   time.Now(),
		LastAccess:  time.Now(),
		TTLDeadline: ttlDeadline,
		Owner:       owner,
	}
	e.insertEntry(key, candidate, hadOld, old)
}

// Get returns the value for key, or ok=false on miss or expiry.
func (e *Engine) Get(key string) ([]byte, bool) {
	start := time.Now()
	e.Tick()
	cohort := e.cohortFor(key)
	cohort.gets++

	if !e.existsAndNotExpired(key) {
		if value, ok := e.getFromSSD(key); ok {
			e.stats.Hits++
			cohort.hits++
			cohort.recordLatency(time.Since(start))
			return value, true
		}
		e.stats.Misses++
		cohort.recordLatency(time.Since(start))
		return nil, false
	}
	entry := e.entries[key]
	entry.LastAccess = time.Now()
	entry.HitCount++
	e.stats.Hits++
	cohort.hits++
	cohort.recordLatency(time.Since(start))
	e.policy.OnAccess(key, e.viewOf(entry))
	return entry.Value, true
}

// Del removes keys, returning the count actually present.
func (e *Engine) Del(keys []string) int {
	e.Tick()
	removed := 0
	for _, k := range keys {
		present := false
		if _, ok := e.entries[k]; ok {
			e.eraseInternal(k, false, false)
			present = true
		}
		if e.ssd != nil && e.ssd.Contains(k) {
			_ = e.ssd.Del(k, e.nextSSDSeq())
			delete(e.ssdHitCount, k)
			present = true
		}
		if present {
			removed++
		}
	}
	return removed
}

// Expire sets key's TTL to ttlSeconds from now; returns false if key absent.
func (e *Engine) Expire(key string, ttlSeconds uint64) bool {
	e.Tick()
	entry, ok := e.entries[key]
	if !ok {
		return false
	}
	deadline := time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	entry.TTLDeadline = &deadline
	e.expiryGeneration[key]++
	e.expiryHeap.push(expiryNode{deadline: deadline, key: key, generation: e.expiryGeneration[key]})
	return true
}

// TTL returns remaining seconds (-1 = no TTL), ok=false if key absent.
func (e *Engine) TTL(key string) (int64, bool) {
	e.Tick()
	entry, ok := e.entries[key]
	if !ok {
		return 0, false
	}
	if entry.TTLDeadline == nil {
		return -1, true
	}
	secs := int64(time.Until(*entry.TTLDeadline).Seconds())
	if secs < -2 {
		secs = -2
	}
	return secs, true
}

// MGet fetches several keys; result[i] is nil when keys[i] missed.
func (e *Engine) MGet(keys []string) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if v, ok := e.Get(k); ok {
			out[i] = v
		}
	}
	return out
}

// Tick drains due TTL entries (bounded by TTLCleanupPerTick), refreshes
// the expiration backlog estimate, and evaluates the canary guardrail.
func (e *Engine) Tick() {
	now := time.Now()
	cleaned := 0
	for e.expiryHeap.Len() > 0 && cleaned < e.cfg.TTLCleanupPerTick {
		node, _ := e.expiryHeap.peek()
		if node.deadline.After(now) {
			break
		}
		node = e.expiryHeap.pop()
		entry, ok := e.entries[node.key]
		if !ok {
			continue
		}
		if e.expiryGeneration[node.key] != node.generation {
			continue
		}
		if entry.TTLDeadline != nil && !entry.TTLDeadline.After(now) {
			e.eraseInternal(node.key, false, true)
			cleaned++
		}
	}

	backlog := 0
	for _, node := range e.expiryHeap {
		if node.deadline.After(now) {
			continue
		}
		backlog++
	}
	e.expirationBacklog = backlog

	e.maybeEvaluateCanary()

	if e.ssd != nil {
		e.drainTierWork()
		e.ssd.EraseExpired(e.cfg.TTLCleanupPerTick, now)
		e.ssd.MaybeCompact()
	}
}

func (e *Engine) existsAndNotExpired(key string) bool {
	entry, ok := e.entries[key]
	if !ok {
		return false
	}
	if entry.TTLDeadline != nil && !entry.TTLDeadline.After(time.Now()) {
		e.eraseInternal(key, false, true)
		return false
	}
	return true
}

func (e *Engine) eraseInternal(key string, eviction, expiration bool) {
	entry, ok := e.entries[key]
	if !ok {
		return
	}
	e.ownerUsage[entry.Owner] -= uint64(entry.SizeBytes)
	e.memoryUsed -= uint64(entry.SizeBytes)
	e.bucketUsed -= uint64(bucketFor(entry.SizeBytes))
	e.policy.OnErase(key)
	delete(e.entries, key)
	delete(e.expiryGeneration, key)
	if eviction {
		e.stats.Evictions++
	}
	if expiration {
		e.stats.Expirations++
	}
}

func (e *Engine) evictUntilFit() {
	safety := len(e.entries) + 1
	for e.memoryUsed > e.cfg.MemoryLimitBytes && safety > 0 {
		safety--
		views := make(map[string]policy.EntryView, len(e.entries))
		for k, v := range e.entries {
			views[k] = e.viewOf(v)
		}
		victim, ok := e.policy.PickVictim(views, e.memoryUsed, e.cfg.MemoryLimitBytes)
		if !ok {
			break
		}
		e.queueDemotion(victim, e.entries[victim])
		e.eraseInternal(victim, true, false)
	}
}

// Info renders the same line-oriented report the wire INFO command returns.
func (e *Engine) Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "policy_mode:%s\n", e.policy.Name())
	fmt.Fprintf(&b, "policy_params_version:%s\n", e.policy.Params().Version)
	fmt.Fprintf(&b, "keys:%d\n", len(e.entries))
	fmt.Fprintf(&b, "memory_used_bytes:%d\n", e.memoryUsed)
	fmt.Fprintf(&b, "memory_limit_bytes:%d\n", e.cfg.MemoryLimitBytes)
	fmt.Fprintf(&b, "memory_overhead_ratio:%g\n", e.MemoryOverheadRatio())
	fmt.Fprintf(&b, "expiration_backlog:%d\n", e.expirationBacklog)
	fmt.Fprintf(&b, "hits:%d\n", e.stats.Hits)
	fmt.Fprintf(&b, "misses:%d\n", e.stats.Misses)
	fmt.Fprintf(&b, "evictions:%d\n", e.stats.Evictions)
	fmt.Fprintf(&b, "expirations:%d\n", e.stats.Expirations)
	fmt.Fprintf(&b, "admissions_rejected:%d\n", e.stats.AdmissionsRejected)
	canaryEnabled := 0
	if e.canaryActive {
		canaryEnabled = 1
	}
	fmt.Fprintf(&b, "canary_enabled:%d\n", canaryEnabled)
	fmt.Fprintf(&b, "canary_pct:%d\n", e.canaryPct)

	controlHR := hitRate(e.controlStats.hits, e.controlStats.gets, 0.0)
	canaryHR := hitRate(e.canaryStats.hits, e.canaryStats.gets, 0.0)
	fmt.Fprintf(&b, "canary_control_hit_rate:%g\n", controlHR)
	fmt.Fprintf(&b, "canary_candidate_hit_rate:%g\n", canaryHR)
	fmt.Fprintf(&b, "canary_control_p99_us:%d\n", p99FromSamples(e.controlStats.latencyUs))
	fmt.Fprintf(&b, "canary_candidate_p99_us:%d\n", p99FromSamples(e.canaryStats.latencyUs))
	fmt.Fprintf(&b, "canary_rollback_events:%d\n", e.rollbackEvents)
	fmt.Fprintf(&b, "canary_last_event:%s\n", e.lastCanaryEvent)

	if e.ssd != nil {
		ssdStats := e.ssd.Stats()
		fmt.Fprintf(&b, "ssd_enabled:1\n")
		fmt.Fprintf(&b, "ssd_keys:%d\n", e.ssd.Size())
		fmt.Fprintf(&b, "ssd_bytes:%d\n", ssdStats.BytesLive)
		fmt.Fprintf(&b, "ssd_gc_runs:%d\n", ssdStats.GCRuns)
		fmt.Fprintf(&b, "ssd_gc_bytes_reclaimed:%d\n", ssdStats.GCBytesReclaimed)
		fmt.Fprintf(&b, "ssd_index_rebuild_ms:%d\n", ssdStats.IndexRebuildMs)
		fmt.Fprintf(&b, "tier_promotions:%d\n", e.tierStats.Promotions)
		fmt.Fprintf(&b, "tier_demotions:%d\n", e.tierStats.Demotions)
	} else {
		fmt.Fprintf(&b, "ssd_enabled:0\n")
	}

	type kv struct {
		key string
		hc  uint64
	}
	counts := make([]kv, 0, len(e.entries))
	for k, v := range e.entries {
		counts = append(counts, kv{k, v.HitCount})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].hc == counts[j].hc {
			return counts[i].key < counts[j].key
		}
		return counts[i].hc > counts[j].hc
	})
	b.WriteString("topk_hits:")
	for i := 0; i < len(counts) && i < 5; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s:%d", counts[i].key, counts[i].hc)
	}
	b.WriteByte('\n')
	return b.String()
}

func hitRate(hits, gets uint64, whenNoGets float64) float64 {
	if gets == 0 {
		return whenNoGets
	}
	return float64(hits) / float64(gets)
}

// MemoryOverheadRatio is bucketed_bytes / live_bytes; 1.0 when empty.
func (e *Engine) MemoryOverheadRatio() float64 {
	if e.memoryUsed == 0 {
		return 1.0
	}
	return float64(e.bucketUsed) / float64(e.memoryUsed)
}

func (e *Engine) Stats() Stats                   { return e.stats }
func (e *Engine) MemoryUsed() uint64             { return e.memoryUsed }
func (e *Engine) MemoryLimitBytes() uint64       { return e.cfg.MemoryLimitBytes }
func (e *Engine) Size() int                      { return len(e.entries) }
func (e *Engine) ExpirationBacklog() int         { return e.expirationBacklog }
func (e *Engine) Policy() policy.Policy          { return e.policy }
func (e *Engine) CanaryPct() uint64              { return e.canaryPct }

func (e *Engine) SetPolicy(p policy.Policy) {
	params := e.controlParams
	e.policy = p
	e.policy.SetParams(params)
}

type paramsPatch struct {
	WMiss                  *float64 `json:"w_miss"`
	WReuse                 *float64 `json:"w_reuse"`
	WMem                   *float64 `json:"w_mem"`
	WRisk                  *float64 `json:"w_risk"`
	AdmitThreshold         *float64 `json:"admit_threshold"`
	EvictPressure          *float64 `json:"evict_pressure"`
	MaxEvictionsPerSecond  *uint64  `json:"max_evictions_per_second"`
	MaxAdmissionsPerSecond *uint64  `json:"max_admissions_per_second"`
	OwnerCapBytes          *uint64  `json:"owner_cap_bytes"`
	Version                *string  `json:"version"`
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampU64(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ReloadParams parses text as a JSON params document, clamps each
// recognized field to its documented range, and either arms the canary
// cohort (when canary_pct > 0) or replaces control params and persists
// the raw text as the last-known-good file.
func (e *Engine) ReloadParams(text string) error {
	if !strings.Contains(text, "{") || !strings.Contains(text, "}") {
		return newErr(KindInvalidSchema, "invalid schema")
	}
	var patch paramsPatch
	if err := json.Unmarshal([]byte(text), &patch); err != nil {
		return newErr(KindInvalidSchema, "invalid schema")
	}

	p := e.policy.Params()
	if patch.WMiss != nil {
		p.WMiss = clamp(*patch.WMiss, 0.0, 1000.0)
	}
	if patch.WReuse != nil {
		p.WReuse = clamp(*patch.WReuse, 0.0, 1000.0)
	}
	if patch.WMem != nil {
		p.WMem = clamp(*patch.WMem, 0.0, 1000.0)
	}
	if patch.WRisk != nil {
		p.WRisk = clamp(*patch.WRisk, 0.0, 1000.0)
	}
	if patch.AdmitThreshold != nil {
		p.AdmitThreshold = clamp(*patch.AdmitThreshold, -1e9, 1e9)
	}
	if patch.EvictPressure != nil {
		p.EvictPressure = clamp(*patch.EvictPressure, 0.1, 1.0)
	}
	if patch.MaxEvictionsPerSecond != nil {
		p.MaxEvictionsPerSecond = clampU64(*patch.MaxEvictionsPerSecond, 1, 1000000)
	}
	if patch.MaxAdmissionsPerSecond != nil {
		p.MaxAdmissionsPerSecond = clampU64(*patch.MaxAdmissionsPerSecond, 1, 1000000)
	}
	if patch.OwnerCapBytes != nil {
		p.OwnerCapBytes = clampU64(*patch.OwnerCapBytes, 0, 1<<40)
	}
	if patch.Version != nil {
		p.Version = *patch.Version
	}

	if e.canaryPct > 0 {
		e.canaryParams = p
		e.canaryActive = true
		e.canaryStart = time.Now()
		e.baselineEvictions = e.stats.Evictions
		e.canaryStats = cohortStats{}
		e.controlStats = cohortStats{}
		e.lastCanaryEvent = "canary_started:" + p.Version
		return nil
	}

	e.controlParams = p
	e.policy.SetParams(e.controlParams)
	e.lastCanaryEvent = "params_loaded:" + p.Version
	_ = os.WriteFile(e.lkgPath(), []byte(text), 0o644)
	return nil
}

func (e *Engine) SetCanaryPct(pct uint64) {
	if pct > 100 {
		pct = 100
	}
	e.canaryPct = pct
	if e.canaryPct == 0 {
		e.canaryActive = false
	}
}

// RollbackToLKG re-applies the persisted last-known-good params as
// control params and deactivates any active canary cohort.
func (e *Engine) RollbackToLKG() error {
	raw, err := os.ReadFile(e.lkgPath())
	if err != nil {
		return newErr(KindIOError, "lkg file not found")
	}
	var patch paramsPatch
	_ = json.Unmarshal(raw, &patch)

	p := e.controlParams
	if patch.WMiss != nil {
		p.WMiss = *patch.WMiss
	}
	if patch.WReuse != nil {
		p.WReuse = *patch.WReuse
	}
	if patch.WMem != nil {
		p.WMem = *patch.WMem
	}
	if patch.WRisk != nil {
		p.WRisk = *patch.WRisk
	}
	if patch.AdmitThreshold != nil {
		p.AdmitThreshold = *patch.AdmitThreshold
	}
	if patch.EvictPressure != nil {
		p.EvictPressure = *patch.EvictPressure
	}
	if patch.MaxEvictionsPerSecond != nil {
		p.MaxEvictionsPerSecond = *patch.MaxEvictionsPerSecond
	}
	if patch.MaxAdmissionsPerSecond != nil {
		p.MaxAdmissionsPerSecond = *patch.MaxAdmissionsPerSecond
	}
	if patch.OwnerCapBytes != nil {
		p.OwnerCapBytes = *patch.OwnerCapBytes
	}
	if patch.Version != nil {
		p.Version = *patch.Version
	}

	e.controlParams = p
	e.policy.SetParams(e.controlParams)
	e.canaryActive = false
	e.rollbackEvents++
	e.lastCanaryEvent = "rollback_to_lkg:" + p.Version
	return nil
}

// DumpStats writes a small point-in-time report to path, for offline
// debugging. Owners are listed lexicographically, first five only.
func (e *Engine) DumpStats(path string) error {
	var b strings.Builder
	b.WriteString("config_hash:na\n")
	fmt.Fprintf(&b, "policy_params_version:%s\n", e.controlParams.Version)
	fmt.Fprintf(&b, "memory_used_bytes:%d\n", e.memoryUsed)
	fmt.Fprintf(&b, "memory_limit_bytes:%d\n", e.cfg.MemoryLimitBytes)

	owners := make([]string, 0, len(e.ownerUsage))
	for o := range e.ownerUsage {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	b.WriteString("owners:")
	for i := 0; i < len(owners) && i < 5; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s:%d", owners[i], e.ownerUsage[owners[i]])
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "eviction_reasons:memory_pressure=%d,expiry=%d\n", e.stats.Evictions, e.stats.Expirations)

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func (e *Engine) maybeEvaluateCanary() {
	if !e.canaryActive {
		return
	}
	now := time.Now()
	if now.Sub(e.lastGuardrailEval) < time.Second {
		return
	}
	e.lastGuardrailEval = now
	if now.Sub(e.canaryStart) < 5*time.Second {
		return
	}

	controlHR := hitRate(e.controlStats.hits, e.controlStats.gets, 1.0)
	canaryHR := hitRate(e.canaryStats.hits, e.canaryStats.gets, controlHR)
	controlP99 := float64(p99FromSamples(e.controlStats.latencyUs))
	canaryP99 := float64(p99FromSamples(e.canaryStats.latencyUs))
	evictionsDelta := e.stats.Evictions - e.baselineEvictions

	latencyBad := controlP99 > 0 && canaryP99 > controlP99*1.5
	hitBad := canaryHR+0.05 < controlHR
	evictionBad := evictionsDelta > 1000

	if latencyBad || hitBad || evictionBad {
		_ = e.RollbackToLKG()
		e.lastCanaryEvent = "auto_rollback_guardrail"
	}
}

// fnv1a64 is the stable (non-randomized) hash used for canary cohort
// assignment. Go's builtin map hash is randomized per-process and is not
// suitable here.
func fnv1a64(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
