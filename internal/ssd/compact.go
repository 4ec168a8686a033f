package ssd

import (
	"os"
	"time"
)

// MaybeCompact copies up to CompactionBatch live records, taken from any
// segment including the active one, into one new segment when fragmentation is at or
// above the configured threshold. Unlike the original, a segment is
// dropped from the retained set only once a post-copy scan of the index
// finds no live entry still pointing at it -- a partial batch that
// leaves entries behind keeps that segment around for the next pass
// instead of orphaning them.
func (s *Store) MaybeCompact() {
	if !s.cfg.Enabled || len(s.segments) < 2 {
		return
	}
	s.stats.FragmentationEstimate = s.fragmentationEstimate()
	if s.stats.FragmentationEstimate < s.cfg.GCFragmentationThreshold {
		return
	}

	start := time.Now()
	compactID := s.segments[len(s.segments)-1].id + 1
	compactPath := s.segPath(compactID)
	cf, err := os.OpenFile(compactPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return
	}

	reclaimedBefore := s.totalSegmentBytes
	newIndex := make(map[string]indexEntry)
	var compactOffset uint64
	copied := 0
	for k, e := range s.index {
		if copied >= s.cfg.CompactionBatch {
			break
		}
		if e.tombstone || e.segmentID == compactID {
			continue
		}
		value, err := s.readEntry(e)
		if err != nil {
			continue
		}
		h := recordHeader{
			magic:      recordMagic,
			keyHash:    fnv1a64(k),
			seq:        e.seq,
			ttlEpochMs: e.ttlEpochMs,
			keyLen:     uint32(len(k)),
			valueLen:   uint32(len(value)),
		}
		h.checksum = checksum32(h, k, value)

		off := compactOffset
		if _, err := cf.Write(h.encode()); err != nil {
			continue
		}
		if _, err := cf.Write([]byte(k)); err != nil {
			continue
		}
		if len(value) > 0 {
			if _, err := cf.Write(value); err != nil {
				continue
			}
		}
		compactOffset += uint64(recordHeaderLen + len(k) + len(value))

		newIndex[k] = indexEntry{
			segmentID:  compactID,
			offset:     off,
			len:        h.valueLen,
			seq:        h.seq,
			ttlEpochMs: h.ttlEpochMs,
			tombstone:  false,
		}
		copied++
	}
	cf.Sync()
	cf.Close()

	if copied == 0 {
		os.Remove(compactPath)
		return
	}

	for k, e := range newIndex {
		s.index[k] = e
	}

	referenced := map[uint32]bool{s.activeSegment: true, compactID: true}
	for _, e := range s.index {
		if !e.tombstone {
			referenced[e.segmentID] = true
		}
	}

	var keep []segmentMeta
	for _, sm := range s.segments {
		if referenced[sm.id] {
			keep = append(keep, sm)
		}
	}
	hasCompact := false
	for _, sm := range keep {
		if sm.id == compactID {
			hasCompact = true
		}
	}
	if !hasCompact {
		sz := uint64(0)
		if fi, err := os.Stat(compactPath); err == nil {
			sz = uint64(fi.Size())
		}
		keep = append(keep, segmentMeta{id: compactID, bytes: sz})
	}
	s.segments = keep

	s.totalSegmentBytes = 0
	for _, sm := range s.segments {
		s.totalSegmentBytes += sm.bytes
	}
	s.writeManifest()

	s.stats.GCRuns++
	if reclaimedBefore > s.totalSegmentBytes {
		s.stats.GCBytesReclaimed += reclaimedBefore - s.totalSegmentBytes
	}
	s.stats.GCTimeMs += uint64(time.Since(start).Milliseconds())
}
