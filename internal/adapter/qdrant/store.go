// Package qdrant is a minimal REST client for a self-hosted Qdrant instance,
// implementing the vector.Store contract with full metadata filtering.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mimi/internal/vector"
)

type Store struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

func NewStore(cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Store{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
	}
}

// EnsureSchema creates the collection with cosine distance if it does not
// exist. Qdrant answers 200 for an existing collection with the same schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	return s.putJSON(ctx, fmt.Sprintf("%s/collections/%s", s.url, s.collection), body, nil)
}

func (s *Store) Upsert(ctx context.Context, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}
	payload := make([]map[string]any, len(points))
	for i, p := range points {
		payload[i] = map[string]any{
			"id":     p.ChunkID,
			"vector": p.Vector,
			"payload": map[string]any{
				"doc_id":  p.Payload.DocID,
				"source":  p.Payload.Source,
				"path":    p.Payload.Path,
				"lang":    p.Payload.Lang,
				"ord":     p.Payload.Ordinal,
				"section": p.Payload.Section,
			},
		}
	}
	body := map[string]any{"points": payload}
	return s.putJSON(ctx, fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection), body, nil)
}

func (s *Store) DeleteByDocument(ctx context.Context, docID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "doc_id", "match": map[string]any{"value": docID}},
			},
		},
	}
	return s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.url, s.collection), body, nil)
}

func (s *Store) DeleteChunks(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	body := map[string]any{"points": chunkIDs}
	return s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.url, s.collection), body, nil)
}

func (s *Store) Search(ctx context.Context, vec []float32, topK int, filters map[string][]string) ([]vector.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	req := map[string]any{
		"vector":       vec,
		"limit":        topK,
		"with_payload": false,
	}
	if f := buildFilter(filters); f != nil {
		req["filter"] = f
	}

	var resp struct {
		Result []struct {
			ID    string  `json:"id"`
			Score float64 `json:"score"`
		} `json:"result"`
	}
	err := s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection), req, &resp)
	if err != nil {
		return nil, err
	}

	hits := make([]vector.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, vector.Hit{ChunkID: r.ID, Score: vector.ClampScore(r.Score)})
	}
	vector.SortHits(hits)
	return hits, nil
}

func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/count", s.url, s.collection), map[string]any{"exact": true}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// buildFilter translates a field→allowed-values map into a Qdrant filter:
// every field must match, any of its listed values may match.
func buildFilter(filters map[string][]string) map[string]any {
	var must []map[string]any
	for field, values := range filters {
		if len(values) == 0 {
			continue
		}
		var should []map[string]any
		for _, v := range values {
			should = append(should, map[string]any{
				"key":   field,
				"match": map[string]any{"value": v},
			})
		}
		must = append(must, map[string]any{"should": should})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func (s *Store) putJSON(ctx context.Context, url string, body, out any) error {
	return s.doJSON(ctx, http.MethodPut, url, body, out)
}

func (s *Store) postJSON(ctx context.Context, url string, body, out any) error {
	return s.doJSON(ctx, http.MethodPost, url, body, out)
}

func (s *Store) doJSON(ctx context.Context, method, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: qdrant %s %s: %v", vector.ErrUnavailable, method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: qdrant %s %s: %s", vector.ErrUnavailable, method, url, resp.Status)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
