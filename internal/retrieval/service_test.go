package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimi/features/document"
	"mimi/internal/vector"
)

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.1, 0.2}, nil
}

type stubStore struct {
	hits    []vector.Hit
	err     error
	gotTopK int
	gotFltr map[string][]string
}

func (s *stubStore) EnsureSchema(context.Context) error                 { return nil }
func (s *stubStore) Upsert(context.Context, []vector.Point) error       { return nil }
func (s *stubStore) DeleteByDocument(context.Context, string) error     { return nil }
func (s *stubStore) DeleteChunks(context.Context, []string) error       { return nil }
func (s *stubStore) CountChunks(context.Context) (int, error)           { return len(s.hits), nil }
func (s *stubStore) Search(_ context.Context, _ []float32, topK int, filters map[string][]string) ([]vector.Hit, error) {
	s.gotTopK = topK
	s.gotFltr = filters
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}

type stubResolver struct {
	chunks map[string]document.Chunk
	docs   map[string]document.Document
}

func (s *stubResolver) GetChunk(_ context.Context, id string) (*document.Chunk, error) {
	if c, ok := s.chunks[id]; ok {
		return &c, nil
	}
	return nil, document.ErrNotFound
}

func (s *stubResolver) GetDocument(_ context.Context, id string) (*document.Document, error) {
	if d, ok := s.docs[id]; ok {
		return &d, nil
	}
	return nil, document.ErrNotFound
}

func corpus() *stubResolver {
	return &stubResolver{
		chunks: map[string]document.Chunk{
			"c1": {ID: "c1", DocID: "docs:a.md", Ordinal: 0, Text: "The deployment pipeline runs nightly.", Section: "Deploys"},
			"c2": {ID: "c2", DocID: "docs:a.md", Ordinal: 1, Text: "Rollbacks are manual and need approval."},
			"c3": {ID: "c3", DocID: "docs:b.md", Ordinal: 0, Text: "Secrets rotate every ninety days."},
		},
		docs: map[string]document.Document{
			"docs:a.md": {ID: "docs:a.md", Source: "docs", Path: "a.md"},
			"docs:b.md": {ID: "docs:b.md", Source: "docs", Path: "b.md"},
		},
	}
}

func TestQuery_EmptyQueryRejected(t *testing.T) {
	svc := NewService(&stubEmbedder{}, &stubStore{}, corpus(), 0.3, nil)
	_, err := svc.Query(context.Background(), Request{Query: "   "})
	assert.True(t, errors.Is(err, ErrEmptyQuery))
}

func TestQuery_OrdersByScoreThenChunkID(t *testing.T) {
	store := &stubStore{hits: []vector.Hit{
		{ChunkID: "c1", Score: 0.55},
		{ChunkID: "c3", Score: 0.91},
		{ChunkID: "c2", Score: 0.55},
	}}
	svc := NewService(&stubEmbedder{}, store, corpus(), 0.3, nil)

	resp, err := svc.Query(context.Background(), Request{Query: "deployment", TopK: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, "c3", resp.Results[0].ChunkID)
	// Equal scores break ties on chunk id ascending.
	assert.Equal(t, "c1", resp.Results[1].ChunkID)
	assert.Equal(t, "c2", resp.Results[2].ChunkID)
	assert.False(t, resp.LowConfidence)
	assert.Equal(t, "docs", resp.Results[0].Source)
	assert.Equal(t, "b.md", resp.Results[0].Path)
}

func TestQuery_DefaultTopK(t *testing.T) {
	store := &stubStore{}
	svc := NewService(&stubEmbedder{}, store, corpus(), 0.3, nil)

	_, err := svc.Query(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, defaultTopK, store.gotTopK)
}

func TestQuery_FiltersPassedThrough(t *testing.T) {
	store := &stubStore{}
	svc := NewService(&stubEmbedder{}, store, corpus(), 0.3, nil)

	filters := map[string][]string{"source": {"docs"}}
	_, err := svc.Query(context.Background(), Request{Query: "anything", Filters: filters})
	require.NoError(t, err)
	assert.Equal(t, filters, store.gotFltr)
}

func TestQuery_LowConfidenceFlag(t *testing.T) {
	t.Run("below threshold", func(t *testing.T) {
		store := &stubStore{hits: []vector.Hit{{ChunkID: "c1", Score: 0.12}}}
		svc := NewService(&stubEmbedder{}, store, corpus(), 0.3, nil)

		resp, err := svc.Query(context.Background(), Request{Query: "deployment"})
		require.NoError(t, err)
		assert.True(t, resp.LowConfidence)
		assert.Len(t, resp.Results, 1, "low confidence still returns results")
	})

	t.Run("no results", func(t *testing.T) {
		svc := NewService(&stubEmbedder{}, &stubStore{}, corpus(), 0.3, nil)
		resp, err := svc.Query(context.Background(), Request{Query: "deployment"})
		require.NoError(t, err)
		assert.True(t, resp.LowConfidence)
		assert.Empty(t, resp.Results)
	})
}

func TestQuery_FlagsEachResultAgainstThreshold(t *testing.T) {
	store := &stubStore{hits: []vector.Hit{
		{ChunkID: "c1", Score: 0.82},
		{ChunkID: "c2", Score: 0.12},
	}}
	svc := NewService(&stubEmbedder{}, store, corpus(), 0.3, nil)

	resp, err := svc.Query(context.Background(), Request{Query: "deployment"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	// A weak hit behind a strong one is still flagged on its own.
	assert.False(t, resp.Results[0].LowConfidence)
	assert.True(t, resp.Results[1].LowConfidence)
	assert.False(t, resp.LowConfidence)
}

func TestQuery_SkipsOrphanedVectors(t *testing.T) {
	store := &stubStore{hits: []vector.Hit{
		{ChunkID: "gone", Score: 0.9},
		{ChunkID: "c1", Score: 0.8},
	}}
	svc := NewService(&stubEmbedder{}, store, corpus(), 0.3, nil)

	resp, err := svc.Query(context.Background(), Request{Query: "deployment"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c1", resp.Results[0].ChunkID)
}

func TestQuery_BackendFailureReturnsNoPartialResults(t *testing.T) {
	t.Run("embedder down", func(t *testing.T) {
		svc := NewService(&stubEmbedder{err: errors.New("quota")}, &stubStore{}, corpus(), 0.3, nil)
		resp, err := svc.Query(context.Background(), Request{Query: "deployment"})
		assert.Error(t, err)
		assert.Nil(t, resp)
	})

	t.Run("store down", func(t *testing.T) {
		store := &stubStore{err: vector.ErrUnavailable}
		svc := NewService(&stubEmbedder{}, store, corpus(), 0.3, nil)
		resp, err := svc.Query(context.Background(), Request{Query: "deployment"})
		assert.True(t, errors.Is(err, vector.ErrUnavailable))
		assert.Nil(t, resp)
	})
}
