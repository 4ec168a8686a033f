package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// HandleHealth reports liveness plus the live key count, so an
// orchestrator's readiness probe doesn't need to parse the full INFO
// text block.
func (h *HTTPHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"keys":      h.Engine.Size(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

// HandleStats returns the engine's INFO text alongside the artifact
// layer's dedup/hit counters, as JSON for programmatic consumers.
func (h *HTTPHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	artifactStats := h.Artifact.Stats()
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"engine_info": h.Engine.Info(),
		"artifact": map[string]interface{}{
			"puts":        artifactStats.Puts,
			"gets":        artifactStats.Gets,
			"hits":        artifactStats.Hits,
			"misses":      artifactStats.Misses,
			"dedup_hits":  artifactStats.DedupHits,
			"dedup_blobs": artifactStats.DedupBlobs,
		},
	})
}
