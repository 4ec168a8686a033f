// Package handlers implements the admin HTTP endpoints: health, JSON
// stats, and the glue promhttp/pprof need around the shared engine.
package handlers

import (
	"github.com/pomaicache/sidecar/internal/artifact"
	"github.com/pomaicache/sidecar/internal/cache"
)

// HTTPHandlers holds the dependencies the admin endpoints read from.
type HTTPHandlers struct {
	Engine   *cache.Engine
	Artifact *artifact.Cache
}

func NewHTTPHandlers(engine *cache.Engine, artifactCache *artifact.Cache) *HTTPHandlers {
	return &HTTPHandlers{
		Engine:   engine,
		Artifact: artifactCache,
	}
}
