package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	docs, chunks, events int
	err                  error
}

func (s *stubRepo) CountDocuments(context.Context) (int, error) { return s.docs, s.err }
func (s *stubRepo) CountChunks(context.Context, string) (int, error) {
	return s.chunks, s.err
}
func (s *stubRepo) CountEvents(context.Context) (int, error) { return s.events, s.err }

type stubVectorStore struct {
	count int
	err   error
}

func (s *stubVectorStore) CountChunks(context.Context) (int, error) { return s.count, s.err }

func TestGetStats(t *testing.T) {
	h := NewHandler(&stubRepo{docs: 3, chunks: 40, events: 12}, &stubVectorStore{count: 37})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.GetStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data StatsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Documents)
	assert.Equal(t, 40, resp.Data.Chunks)
	assert.Equal(t, 37, resp.Data.Vectors)
	assert.Equal(t, 12, resp.Data.Events)
}

func TestGetStats_VectorStoreDownIsNotFatal(t *testing.T) {
	h := NewHandler(&stubRepo{docs: 1, chunks: 2, events: 3}, &stubVectorStore{err: errors.New("refused")})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.GetStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"vectors":-1`)
}

func TestGetStats_RepoFailure(t *testing.T) {
	h := NewHandler(&stubRepo{err: errors.New("db down")}, &stubVectorStore{})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.GetStats(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
