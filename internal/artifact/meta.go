package artifact

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Meta is the metadata envelope stored alongside every artifact.
// artifact_type, owner and schema_version must be present in the
// caller-supplied JSON. Put fills created_at, ttl_deadline, content_hash
// and miss_cost when they are zero or empty, and always sets size_bytes
// from the payload; the other fields are kept as given.
type Meta struct {
	ArtifactType  string  `json:"artifact_type"`
	Owner         string  `json:"owner"`
	SchemaVersion string  `json:"schema_version"`
	ModelID       string  `json:"model_id,omitempty"`
	TokenizerID   string  `json:"tokenizer_id,omitempty"`
	DatasetID     string  `json:"dataset_id,omitempty"`
	SourceID      string  `json:"source_id,omitempty"`
	ChunkID       string  `json:"chunk_id,omitempty"`
	SourceRev     string  `json:"source_rev,omitempty"`
	SnapshotEpoch string  `json:"snapshot_epoch,omitempty"`
	CreatedAtMs   uint64  `json:"created_at"`
	TTLMs         uint64  `json:"ttl_deadline"`
	SizeBytes     int     `json:"size_bytes"`
	ContentHash   string  `json:"content_hash,omitempty"`
	TagsJSON      string  `json:"tags_json,omitempty"`
	MissCost      float64 `json:"miss_cost"`
}

var ownerTTLDefaultsMs = map[string]uint64{
	"rerank":   5 * 60 * 1000,
	"response": 60 * 60 * 1000,
	"prompt":   24 * 60 * 60 * 1000,
	"vector":   7 * 24 * 60 * 60 * 1000,
	"rag":      6 * 60 * 60 * 1000,
}

func ttlDefaultMs(owner string) uint64 {
	if v, ok := ownerTTLDefaultsMs[owner]; ok {
		return v
	}
	return 60 * 60 * 1000
}

func defaultMissCost(artifactType string) float64 {
	switch artifactType {
	case "embedding":
		return 8.0
	case "rerank_buffer":
		return 3.0
	case "response":
		return 4.0
	case "prompt":
		return 2.0
	case "rag_chunk":
		return 2.5
	default:
		return 1.0
	}
}

// parseMetaJSON unmarshals text into a Meta, rejecting input that omits
// any of the three required fields.
func parseMetaJSON(text string) (Meta, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return Meta{}, fmt.Errorf("meta_json invalid: %w", err)
	}
	for _, required := range []string{"artifact_type", "owner", "schema_version"} {
		if _, ok := probe[required]; !ok {
			return Meta{}, fmt.Errorf("meta_json missing required field %q", required)
		}
	}
	var m Meta
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return Meta{}, fmt.Errorf("meta_json invalid: %w", err)
	}
	return m, nil
}

// metaToJSON renders the full round trip, including the fields the
// original implementation's meta_to_json dropped silently.
func metaToJSON(m Meta) string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// contentHash is a fast, non-cryptographic FNV-1a64-style digest used
// for content-addressed blob dedup.
func contentHash(payload []byte) string {
	var h uint64 = 14695981039346656037
	for _, b := range payload {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return fmt.Sprintf("%x", h)
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
