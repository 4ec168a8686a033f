package artifact

import "strconv"

// Canonical key builders. Each returns a deterministic, colon-separated
// string so identical inputs always address the same cache entry.

func EmbeddingKey(modelID, inputHash string, dim int, dtype string) string {
	return "emb:" + modelID + ":" + inputHash + ":" + strconv.Itoa(dim) + ":" + dtype
}

func PromptKey(tokenizerID, promptHash string) string {
	return "prm:" + tokenizerID + ":" + promptHash
}

func RagChunkKey(sourceID, chunkID, rev string) string {
	return "rag:" + sourceID + ":" + chunkID + ":" + rev
}

func RerankKey(queryHash, indexEpoch string, topK int, paramsHash string) string {
	return "rrk:" + queryHash + ":" + indexEpoch + ":" + strconv.Itoa(topK) + ":" + paramsHash
}

func ResponseKey(promptHash, paramsHash, modelID string) string {
	return "rsp:" + promptHash + ":" + paramsHash + ":" + modelID
}
