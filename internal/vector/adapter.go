// Package vector defines the backend-agnostic contract for the pluggable
// vector store. Two adapters implement it: a self-hosted Qdrant instance with
// full metadata filtering, and a managed Weaviate deployment with reduced
// filtering. Callers never branch on the backend; selection happens once at
// bootstrap from configuration.
package vector

import (
	"context"
	"errors"
	"sort"
)

// ErrUnavailable wraps connectivity failures against the vector backend.
// The ingestion orchestrator treats it as retryable at document granularity.
var ErrUnavailable = errors.New("vector store unavailable")

// Payload is the chunk metadata stored alongside each vector. It carries just
// enough to filter searches and to delete by owning document; the full chunk
// text lives in the metadata store.
type Payload struct {
	DocID   string `json:"doc_id"`
	Source  string `json:"source"`
	Path    string `json:"path"`
	Lang    string `json:"lang"`
	Ordinal int    `json:"ord"`
	Section string `json:"section"`
}

type Point struct {
	ChunkID string
	Vector  []float32
	Payload Payload
}

// Hit is one search result: chunk id plus similarity score in [0,1].
type Hit struct {
	ChunkID string
	Score   float64
}

type Store interface {
	// EnsureSchema creates the collection/class if missing. Idempotent.
	EnsureSchema(ctx context.Context) error

	// Upsert writes points; re-upserting an existing chunk id replaces it.
	Upsert(ctx context.Context, points []Point) error

	// DeleteByDocument removes every point owned by the document.
	DeleteByDocument(ctx context.Context, docID string) error

	// DeleteChunks removes the given points by chunk id.
	DeleteChunks(ctx context.Context, chunkIDs []string) error

	// Search returns up to topK hits ordered by descending similarity,
	// equal scores ordered by ascending chunk id. filters maps a payload
	// field to its set of allowed values.
	Search(ctx context.Context, vec []float32, topK int, filters map[string][]string) ([]Hit, error)

	// CountChunks reports the number of stored points.
	CountChunks(ctx context.Context) (int, error)
}

// SortHits applies the Search ordering contract: score descending, equal
// scores by chunk id ascending. Backends do not define a tie order.
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

// ClampScore forces backend-reported similarity into [0,1]. Qdrant cosine
// scores can dip below zero for anti-correlated vectors.
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
