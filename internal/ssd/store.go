package ssd

import (
	"errors"
	"os"
	"time"
)

// FsyncMode controls when the active segment's fd is fsynced.
type FsyncMode int

const (
	FsyncEverySec FsyncMode = iota
	FsyncAlways
	FsyncNever
)

// Config bounds one Store.
type Config struct {
	Enabled                  bool
	Dir                      string
	ValueMinBytes            int
	MaxBytes                 uint64
	MaxReadMBs               uint64
	MaxWriteMBs              uint64
	CompactionBatch          int
	GCFragmentationThreshold float64
	Fsync                    FsyncMode
}

func DefaultConfig() Config {
	return Config{
		Enabled:                  false,
		Dir:                      "./data",
		ValueMinBytes:            32 * 1024,
		MaxBytes:                 2 * 1024 * 1024 * 1024,
		MaxReadMBs:               256,
		MaxWriteMBs:              256,
		CompactionBatch:          256,
		GCFragmentationThreshold: 0.25,
		Fsync:                    FsyncEverySec,
	}
}

// Stats are the tier's lifetime and point-in-time counters.
type Stats struct {
	BytesLive             uint64
	Gets                  uint64
	Hits                  uint64
	Misses                uint64
	Promotions            uint64
	Demotions             uint64
	ReadMB                float64
	WriteMB               float64
	GCRuns                uint64
	GCBytesReclaimed      uint64
	GCTimeMs              uint64
	FragmentationEstimate float64
	IndexRebuildMs        uint64
}

// Meta is returned alongside a Get hit.
type Meta struct {
	Seq        uint64
	TTLEpochMs int64
	Len        uint32
}

type indexEntry struct {
	segmentID  uint32
	offset     uint64
	len        uint32
	seq        uint64
	ttlEpochMs int64
	tombstone  bool
}

type segmentMeta struct {
	id    uint32
	bytes uint64
}

var (
	ErrDisabled    = errors.New("ssd tier disabled")
	ErrRateLimited = errors.New("ssd rate limited")
	ErrTierFull    = errors.New("ssd tier full")
)

// Store is the SSD overflow tier. Not safe for concurrent use; the
// engine's single-caller model is what makes this acceptable.
type Store struct {
	cfg   Config
	stats Stats

	index             map[string]indexEntry
	segments          []segmentMeta
	activeSegment     uint32
	activeFile        *os.File
	activeOffset      uint64
	lastFsyncEpochS   int64
	liveBytes         uint64
	totalSegmentBytes uint64

	tokenRefill time.Time
	readTokens  float64
	writeTokens float64
}

func New(cfg Config) *Store {
	return &Store{
		cfg:         cfg,
		index:       make(map[string]indexEntry),
		tokenRefill: time.Now(),
		readTokens:  float64(cfg.MaxReadMBs) * 1024 * 1024,
		writeTokens: float64(cfg.MaxWriteMBs) * 1024 * 1024,
	}
}

// Init scans existing segments (if any), repairing a truncated tail, and
// opens the active segment for appending. A no-op when the tier is
// disabled.
func (s *Store) Init() error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return err
	}

	start := time.Now()
	segs, active, ok := s.loadManifest()
	if !ok {
		segs, active = []uint32{1}, 1
	}

	s.segments = nil
	s.totalSegmentBytes = 0
	for _, id := range segs {
		if err := s.scanSegment(id, true); err != nil {
			return err
		}
		sz := uint64(0)
		if fi, err := os.Stat(s.segPath(id)); err == nil {
			sz = uint64(fi.Size())
		}
		s.segments = append(s.segments, segmentMeta{id: id, bytes: sz})
		s.totalSegmentBytes += sz
	}
	if len(s.segments) == 0 {
		s.segments = append(s.segments, segmentMeta{id: 1, bytes: 0})
	}

	s.activeSegment = active
	found := false
	for _, sm := range s.segments {
		if sm.id == s.activeSegment {
			found = true
		}
	}
	if !found {
		s.activeSegment = s.segments[len(s.segments)-1].id
	}

	f, err := os.OpenFile(s.segPath(s.activeSegment), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.activeFile = f
	if fi, err := f.Stat(); err == nil {
		s.activeOffset = uint64(fi.Size())
	}

	s.stats.BytesLive = s.liveBytes
	s.stats.FragmentationEstimate = s.fragmentationEstimate()
	s.stats.IndexRebuildMs = uint64(time.Since(start).Milliseconds())
	return s.writeManifest()
}

func (s *Store) fragmentationEstimate() float64 {
	if s.totalSegmentBytes == 0 {
		return 0.0
	}
	return 1.0 - float64(s.liveBytes)/float64(s.totalSegmentBytes)
}

func toEpochMs(t *time.Time) int64 {
	if t == nil {
		return -1
	}
	return t.UnixMilli()
}

// Put appends a value record and updates the index.
func (s *Store) Put(key string, value []byte, ttlDeadline *time.Time, seq uint64) error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	entry, err := s.appendRecord(key, value, toEpochMs(ttlDeadline), seq, false)
	if err != nil {
		return err
	}
	if old, ok := s.index[key]; ok && !old.tombstone {
		s.liveBytes -= uint64(old.len)
	}
	s.index[key] = entry
	s.liveBytes += uint64(entry.len)
	s.stats.BytesLive = s.liveBytes
	return nil
}

// Del appends a tombstone record.
func (s *Store) Del(key string, seq uint64) error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	entry, err := s.appendRecord(key, nil, -1, seq, true)
	if err != nil {
		return err
	}
	if old, ok := s.index[key]; ok && !old.tombstone {
		s.liveBytes -= uint64(old.len)
	}
	entry.tombstone = true
	entry.len = 0
	s.index[key] = entry
	s.stats.BytesLive = s.liveBytes
	return nil
}

// Get returns the value for key, its Meta, and ok=false on miss,
// tombstone, or expiry.
func (s *Store) Get(key string) ([]byte, Meta, bool) {
	s.stats.Gets++
	e, found := s.index[key]
	if !found || e.tombstone {
		s.stats.Misses++
		return nil, Meta{}, false
	}
	nowMs := time.Now().UnixMilli()
	if e.ttlEpochMs >= 0 && e.ttlEpochMs <= nowMs {
		delete(s.index, key)
		s.stats.Misses++
		return nil, Meta{}, false
	}
	value, err := s.readEntry(e)
	if err != nil {
		s.stats.Misses++
		return nil, Meta{}, false
	}
	s.stats.Hits++
	return value, Meta{Seq: e.seq, TTLEpochMs: e.ttlEpochMs, Len: e.len}, true
}

// Contains reports whether key has a live, non-tombstoned index entry.
// It does not check TTL expiry.
func (s *Store) Contains(key string) bool {
	e, ok := s.index[key]
	return ok && !e.tombstone
}

// EraseExpired removes up to maxItems expired index entries and returns
// the count actually removed.
func (s *Store) EraseExpired(maxItems int, now time.Time) int {
	nowMs := now.UnixMilli()
	removed := 0
	for k, e := range s.index {
		if removed >= maxItems {
			break
		}
		if !e.tombstone && e.ttlEpochMs >= 0 && e.ttlEpochMs <= nowMs {
			s.liveBytes -= uint64(e.len)
			delete(s.index, k)
			removed++
		}
	}
	s.stats.BytesLive = s.liveBytes
	return removed
}

func (s *Store) Stats() Stats { return s.stats }
func (s *Store) Size() int    { return len(s.index) }

func (s *Store) appendRecord(key string, value []byte, ttlEpochMs int64, seq uint64, tombstone bool) (indexEntry, error) {
	s.refillTokens()
	need := uint64(recordHeaderLen + len(key) + len(value))
	if !s.consumeWriteBudget(need) {
		return indexEntry{}, ErrRateLimited
	}
	if s.stats.BytesLive+uint64(len(value)) > s.cfg.MaxBytes {
		return indexEntry{}, ErrTierFull
	}

	h := recordHeader{
		magic:      recordMagic,
		keyHash:    fnv1a64(key),
		seq:        seq,
		ttlEpochMs: ttlEpochMs,
		keyLen:     uint32(len(key)),
		valueLen:   uint32(len(value)),
	}
	if tombstone {
		h.tombstone = 1
	}
	h.checksum = checksum32(h, key, value)

	off := s.activeOffset
	if _, err := s.activeFile.Write(h.encode()); err != nil {
		return indexEntry{}, err
	}
	if _, err := s.activeFile.Write([]byte(key)); err != nil {
		return indexEntry{}, err
	}
	if len(value) > 0 {
		if _, err := s.activeFile.Write(value); err != nil {
			return indexEntry{}, err
		}
	}
	if err := s.syncForPolicy(); err != nil {
		return indexEntry{}, err
	}

	s.activeOffset += need
	s.stats.WriteMB += float64(need) / (1024.0 * 1024.0)
	for i := range s.segments {
		if s.segments[i].id == s.activeSegment {
			s.segments[i].bytes += need
			s.totalSegmentBytes += need
			break
		}
	}

	return indexEntry{
		segmentID:  s.activeSegment,
		offset:     off,
		len:        uint32(len(value)),
		seq:        seq,
		ttlEpochMs: ttlEpochMs,
		tombstone:  tombstone,
	}, nil
}

func (s *Store) syncForPolicy() error {
	switch s.cfg.Fsync {
	case FsyncNever:
		return nil
	case FsyncAlways:
		return s.activeFile.Sync()
	default: // FsyncEverySec
		nowS := time.Now().Unix()
		if nowS != s.lastFsyncEpochS {
			s.lastFsyncEpochS = nowS
			return s.activeFile.Sync()
		}
		return nil
	}
}

func (s *Store) readEntry(e indexEntry) ([]byte, error) {
	s.refillTokens()
	if !s.consumeReadBudget(uint64(e.len) + recordHeaderLen) {
		return nil, ErrRateLimited
	}
	f, err := os.Open(s.segPath(e.segmentID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hbuf := make([]byte, recordHeaderLen)
	if _, err := f.ReadAt(hbuf, int64(e.offset)); err != nil {
		return nil, err
	}
	h := decodeRecordHeader(hbuf)

	key := make([]byte, h.keyLen)
	if _, err := f.ReadAt(key, int64(e.offset)+recordHeaderLen); err != nil {
		return nil, err
	}
	value := make([]byte, h.valueLen)
	if h.valueLen > 0 {
		if _, err := f.ReadAt(value, int64(e.offset)+recordHeaderLen+int64(h.keyLen)); err != nil {
			return nil, err
		}
	}
	s.stats.ReadMB += float64(uint64(h.valueLen)+recordHeaderLen) / (1024.0 * 1024.0)
	return value, nil
}

func (s *Store) refillTokens() {
	now := time.Now()
	dt := now.Sub(s.tokenRefill).Seconds()
	if dt <= 0 {
		return
	}
	rb := float64(s.cfg.MaxReadMBs) * 1024 * 1024
	wb := float64(s.cfg.MaxWriteMBs) * 1024 * 1024
	s.readTokens = minF(rb, s.readTokens+rb*dt)
	s.writeTokens = minF(wb, s.writeTokens+wb*dt)
	s.tokenRefill = now
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// A configured rate of exactly zero permanently rejects every request in
// that direction (matches consume_write_budget/consume_read_budget).
func (s *Store) consumeWriteBudget(bytes uint64) bool {
	if s.cfg.MaxWriteMBs == 0 {
		return false
	}
	if s.writeTokens < float64(bytes) {
		return false
	}
	s.writeTokens -= float64(bytes)
	return true
}

func (s *Store) consumeReadBudget(bytes uint64) bool {
	if s.cfg.MaxReadMBs == 0 {
		return false
	}
	if s.readTokens < float64(bytes) {
		return false
	}
	s.readTokens -= float64(bytes)
	return true
}

func (s *Store) scanSegment(id uint32, repairTail bool) error {
	path := s.segPath(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var off int64
	for {
		hbuf := make([]byte, recordHeaderLen)
		n, rerr := f.ReadAt(hbuf, off)
		if n == 0 {
			break
		}
		if n != recordHeaderLen || rerr != nil {
			if repairTail {
				f.Truncate(off)
			}
			break
		}
		h := decodeRecordHeader(hbuf)
		if h.magic != recordMagic {
			if repairTail {
				f.Truncate(off)
			}
			break
		}

		key := make([]byte, h.keyLen)
		if _, rerr := f.ReadAt(key, off+recordHeaderLen); rerr != nil {
			if repairTail {
				f.Truncate(off)
			}
			break
		}
		value := make([]byte, h.valueLen)
		if h.valueLen > 0 {
			if _, rerr := f.ReadAt(value, off+recordHeaderLen+int64(h.keyLen)); rerr != nil {
				if repairTail {
					f.Truncate(off)
				}
				break
			}
		}
		if checksum32(h, string(key), value) != h.checksum {
			if repairTail {
				f.Truncate(off)
			}
			break
		}

		e := indexEntry{
			segmentID:  id,
			offset:     uint64(off),
			len:        h.valueLen,
			seq:        h.seq,
			ttlEpochMs: h.ttlEpochMs,
			tombstone:  h.tombstone != 0,
		}
		if existing, ok := s.index[string(key)]; !ok || existing.seq <= e.seq {
			s.index[string(key)] = e
		}
		off += recordHeaderLen + int64(h.keyLen) + int64(h.valueLen)
	}

	s.liveBytes = 0
	for _, e := range s.index {
		if !e.tombstone {
			s.liveBytes += uint64(e.len)
		}
	}
	return nil
}
