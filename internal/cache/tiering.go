package cache

import (
	"container/list"
	"time"

	"github.com/pomaicache/sidecar/internal/cache/policy"
	"github.com/pomaicache/sidecar/internal/ssd"
)

// promoteEntry is a pending SSD-hit value waiting to be copied back into
// RAM on a future tick.
type promoteEntry struct {
	key         string
	value       []byte
	owner       string
	ttlDeadline *time.Time
}

// demoteEntry is a pending RAM value waiting to be written to the SSD
// tier on a future tick; it is queued just before the RAM copy is
// erased, so the RAM copy is gone by the time the queue is drained.
type demoteEntry struct {
	key         string
	value       []byte
	owner       string
	ttlDeadline *time.Time
}

// TierStats are the promotion/demotion controller's lifetime counters.
type TierStats struct {
	Promotions uint64
	Demotions  uint64
}

// SetSSD attaches the SSD overflow tier and the promotion/demotion
// thresholds that govern it. A nil store (the default) disables tiering
// entirely: evictions simply drop values and Get never falls through to
// disk.
func (e *Engine) SetSSD(store *ssd.Store, valueMinBytes int, promotionHits uint64, demotionPressure float64) {
	e.ssd = store
	e.ssdValueMinBytes = valueMinBytes
	e.promotionHits = promotionHits
	e.demotionPressure = demotionPressure
	if e.ssdHitCount == nil {
		e.ssdHitCount = make(map[string]uint64)
	}
	if e.promoteQueue == nil {
		e.promoteQueue = list.New()
	}
	if e.demoteQueue == nil {
		e.demoteQueue = list.New()
	}
}

func (e *Engine) nextSSDSeq() uint64 {
	e.ssdSeq++
	return e.ssdSeq
}

// getFromSSD is consulted on a RAM miss. A hit bumps the per-key SSD hit
// counter and, once it reaches promotionHits with a value small enough
// to re-admit, enqueues a promotion for the next tick.
func (e *Engine) getFromSSD(key string) ([]byte, bool) {
	if e.ssd == nil {
		return nil, false
	}
	value, meta, ok := e.ssd.Get(key)
	if !ok {
		return nil, false
	}
	e.ssdHitCount[key]++
	if e.ssdHitCount[key] >= e.promotionHits && len(value) < e.ssdValueMinBytes {
		var deadline *time.Time
		if meta.TTLEpochMs >= 0 {
			d := time.UnixMilli(meta.TTLEpochMs)
			deadline = &d
		}
		e.promoteQueue.PushBack(promoteEntry{key: key, value: value, owner: "default", ttlDeadline: deadline})
	}
	return value, true
}

// queueDemotion is called from the eviction path just before the RAM
// entry is erased; the write to SSD itself happens during a later
// tick's drainTierWork.
func (e *Engine) queueDemotion(key string, entry *Entry) {
	if e.ssd == nil {
		return
	}
	e.demoteQueue.PushBack(demoteEntry{key: key, value: entry.Value, owner: entry.Owner, ttlDeadline: entry.TTLDeadline})
}

// probeDemotionPressure queues additional victims for SSD writeback when
// memory pressure is at or above demotionPressure, independent of the
// RAM-capacity eviction path.
func (e *Engine) probeDemotionPressure(budget int) {
	if e.ssd == nil || e.cfg.MemoryLimitBytes == 0 || budget <= 0 {
		return
	}
	if float64(e.memoryUsed)/float64(e.cfg.MemoryLimitBytes) < e.demotionPressure {
		return
	}
	for i := 0; i < budget; i++ {
		views := make(map[string]policy.EntryView, len(e.entries))
		for k, v := range e.entries {
			views[k] = e.viewOf(v)
		}
		victim, ok := e.policy.PickVictim(views, e.memoryUsed, e.cfg.MemoryLimitBytes)
		if !ok {
			return
		}
		entry := e.entries[victim]
		e.queueDemotion(victim, entry)
		e.eraseInternal(victim, true, false)
	}
}

// drainTierWork promotes pending SSD hits back into RAM, then writes
// pending demotions out to SSD, bounded so the combined work never
// exceeds TierWorkPerTick. Promotions run first.
func (e *Engine) drainTierWork() {
	if e.ssd == nil {
		return
	}
	budget := e.cfg.TierWorkPerTick
	for budget > 0 && e.promoteQueue.Len() > 0 {
		budget--
		front := e.promoteQueue.Remove(e.promoteQueue.Front()).(promoteEntry)
		if front.ttlDeadline != nil && !front.ttlDeadline.After(time.Now()) {
			continue
		}
		e.promoteIntoRAM(front.key, front.value, front.ttlDeadline, front.owner)
		_ = e.ssd.Del(front.key, e.nextSSDSeq())
		e.tierStats.Promotions++
	}
	for budget > 0 && e.demoteQueue.Len() > 0 {
		budget--
		front := e.demoteQueue.Remove(e.demoteQueue.Front()).(demoteEntry)
		if err := e.ssd.Put(front.key, front.value, front.ttlDeadline, e.nextSSDSeq()); err != nil {
			continue
		}
		e.tierStats.Demotions++
	}
	e.probeDemotionPressure(budget)
}
