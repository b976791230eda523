// Package retrieval answers queries against the indexed corpus: embed the
// query, search the vector store, resolve hits back to chunk metadata.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mimi/features/document"
	"mimi/internal/vector"
)

// ErrEmptyQuery rejects a blank query before any backend call.
var ErrEmptyQuery = errors.New("query is empty")

const defaultTopK = 5

type Request struct {
	Query   string              `json:"query"`
	TopK    int                 `json:"top_k"`
	Filters map[string][]string `json:"filters,omitempty"`
}

type Result struct {
	ChunkID       string  `json:"chunk_id"`
	DocID         string  `json:"doc_id"`
	Source        string  `json:"source"`
	Path          string  `json:"path"`
	Section       string  `json:"section,omitempty"`
	Ordinal       int     `json:"ord"`
	Score         float64 `json:"score"`
	Snippet       string  `json:"snippet"`
	LowConfidence bool    `json:"low_confidence"`
	Text          string  `json:"-"`
}

type Response struct {
	Results       []Result `json:"results"`
	LowConfidence bool     `json:"low_confidence"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkResolver maps vector hits back to chunk and document metadata.
type ChunkResolver interface {
	GetChunk(ctx context.Context, chunkID string) (*document.Chunk, error)
	GetDocument(ctx context.Context, id string) (*document.Document, error)
}

type Service struct {
	embedder  Embedder
	store     vector.Store
	resolver  ChunkResolver
	threshold float64
	logger    *QueryLogger
}

func NewService(e Embedder, s vector.Store, r ChunkResolver, confidenceThreshold float64, l *QueryLogger) *Service {
	return &Service{
		embedder:  e,
		store:     s,
		resolver:  r,
		threshold: confidenceThreshold,
		logger:    l,
	}
}

// Query runs the retrieval pipeline. Errors are all-or-nothing: a failing
// backend never yields partial results.
func (s *Service) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	hits, err := s.store.Search(ctx, vec, topK, req.Filters)
	if err != nil {
		return nil, err
	}

	results, err := s.resolve(ctx, req.Query, hits)
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	// Each result carries its own flag; a weak hit ranked behind a strong
	// one is still marked.
	for i := range results {
		results[i].LowConfidence = results[i].Score < s.threshold
	}

	resp := &Response{
		Results:       results,
		LowConfidence: len(results) == 0 || results[0].Score < s.threshold,
	}

	if s.logger != nil {
		topScore := 0.0
		if len(results) > 0 {
			topScore = results[0].Score
		}
		s.logger.Log(ctx, QueryLogEntry{
			Query:         req.Query,
			NumResults:    len(results),
			TopScore:      topScore,
			LowConfidence: resp.LowConfidence,
			Duration:      time.Since(start),
		})
	}
	return resp, nil
}

func (s *Service) resolve(ctx context.Context, query string, hits []vector.Hit) ([]Result, error) {
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		chunk, err := s.resolver.GetChunk(ctx, hit.ChunkID)
		if errors.Is(err, document.ErrNotFound) {
			// Orphaned vector, cleanup raced or failed. Skip it.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve chunk %s: %w", hit.ChunkID, err)
		}

		doc, err := s.resolver.GetDocument(ctx, chunk.DocID)
		if errors.Is(err, document.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve document %s: %w", chunk.DocID, err)
		}

		results = append(results, Result{
			ChunkID: chunk.ID,
			DocID:   doc.ID,
			Source:  doc.Source,
			Path:    doc.Path,
			Section: chunk.Section,
			Ordinal: chunk.Ordinal,
			Score:   hit.Score,
			Snippet: snippetFor(chunk, query),
			Text:    chunk.Text,
		})
	}
	return results, nil
}
