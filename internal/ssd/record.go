// Package ssd implements the SSD overflow tier: an append-only segmented
// log with a fast in-memory key index, crash recovery via tail repair,
// token-bucket throttling, and fragmentation-triggered compaction.
package ssd

import "encoding/binary"

const (
	recordMagic     uint32 = 0x504d3443 // "PMC4"
	recordHeaderLen        = 56
)

// recordHeader is the on-disk layout for one log record, little-endian,
// packed to exactly 56 bytes. offsetNext is reserved (always written 0).
type recordHeader struct {
	magic      uint32
	checksum   uint32
	keyHash    uint64
	seq        uint64
	offsetNext uint64
	ttlEpochMs int64
	keyLen     uint32
	valueLen   uint32
	tombstone  uint8
}

func (h recordHeader) encode() []byte {
	b := make([]byte, recordHeaderLen)
	binary.LittleEndian.PutUint32(b[0:4], h.magic)
	binary.LittleEndian.PutUint32(b[4:8], h.checksum)
	binary.LittleEndian.PutUint64(b[8:16], h.keyHash)
	binary.LittleEndian.PutUint64(b[16:24], h.seq)
	binary.LittleEndian.PutUint64(b[24:32], h.offsetNext)
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.ttlEpochMs))
	binary.LittleEndian.PutUint32(b[40:44], h.keyLen)
	binary.LittleEndian.PutUint32(b[44:48], h.valueLen)
	b[48] = h.tombstone
	// b[49:56] stays zero (reserved).
	return b
}

func decodeRecordHeader(b []byte) recordHeader {
	return recordHeader{
		magic:      binary.LittleEndian.Uint32(b[0:4]),
		checksum:   binary.LittleEndian.Uint32(b[4:8]),
		keyHash:    binary.LittleEndian.Uint64(b[8:16]),
		seq:        binary.LittleEndian.Uint64(b[16:24]),
		offsetNext: binary.LittleEndian.Uint64(b[24:32]),
		ttlEpochMs: int64(binary.LittleEndian.Uint64(b[32:40])),
		keyLen:     binary.LittleEndian.Uint32(b[40:44]),
		valueLen:   binary.LittleEndian.Uint32(b[44:48]),
		tombstone:  b[48],
	}
}

// checksum32 mixes every header byte except the checksum field itself,
// followed by the key and value bytes, with FNV-1a32.
func checksum32(h recordHeader, key string, value []byte) uint32 {
	var sum uint32 = 2166136261
	mix := func(b byte) {
		sum ^= uint32(b)
		sum *= 16777619
	}
	enc := h.encode()
	for i, b := range enc {
		if i >= 4 && i < 8 {
			continue // checksum field
		}
		mix(b)
	}
	for i := 0; i < len(key); i++ {
		mix(key[i])
	}
	for _, b := range value {
		mix(b)
	}
	return sum
}

// fnv1a64 is the stable key-hash used for record.keyHash.
func fnv1a64(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
