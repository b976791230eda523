// Package weaviate adapts a managed Weaviate deployment to the vector.Store
// contract. Its filtering capability is reduced compared to the Qdrant
// backend: only one value per field can be pushed down to the server, the
// remaining allowed values are applied client-side after the search.
package weaviate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"mimi/internal/vector"
)

const className = "DocumentChunk"

// payloadFields are the chunk metadata properties mirrored into Weaviate.
var payloadFields = []string{"chunkId", "docId", "source", "path", "lang", "section"}

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: weaviate schema check: %v", vector.ErrUnavailable, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:       className,
		Description: "A retrievable chunk of an ingested document",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "chunkId", DataType: []string{"string"}},
			{Name: "docId", DataType: []string{"string"}},
			{Name: "source", DataType: []string{"string"}},
			{Name: "path", DataType: []string{"string"}},
			{Name: "lang", DataType: []string{"string"}},
			{Name: "ord", DataType: []string{"int"}},
			{Name: "section", DataType: []string{"text"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("%w: weaviate class create: %v", vector.ErrUnavailable, err)
	}
	return nil
}

// Upsert goes through the batch objects endpoint; a batched object with an
// existing id replaces it where a plain create would be rejected.
func (s *Store) Upsert(ctx context.Context, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(points))
	for i, p := range points {
		objects[i] = &models.Object{
			Class: className,
			ID:    strfmt.UUID(p.ChunkID),
			Properties: map[string]interface{}{
				"chunkId": p.ChunkID,
				"docId":   p.Payload.DocID,
				"source":  p.Payload.Source,
				"path":    p.Payload.Path,
				"lang":    p.Payload.Lang,
				"ord":     p.Payload.Ordinal,
				"section": p.Payload.Section,
			},
			Vector: models.C11yVector(p.Vector),
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: weaviate upsert: %v", vector.ErrUnavailable, err)
	}
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			if e != nil && e.Message != "" {
				return fmt.Errorf("weaviate upsert object %s: %s", r.ID, e.Message)
			}
		}
	}
	return nil
}

func (s *Store) DeleteByDocument(ctx context.Context, docID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(className).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"docId"}).
			WithOperator(filters.Equal).
			WithValueString(docID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: weaviate delete by document: %v", vector.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) DeleteChunks(ctx context.Context, chunkIDs []string) error {
	for _, id := range chunkIDs {
		_, err := s.client.Batch().ObjectsBatchDeleter().
			WithClassName(className).
			WithOutput("minimal").
			WithWhere(filters.Where().
				WithPath([]string{"chunkId"}).
				WithOperator(filters.Equal).
				WithValueString(id)).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: weaviate delete chunk: %v", vector.ErrUnavailable, err)
		}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vec []float32, topK int, filterSets map[string][]string) ([]vector.Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	fields := make([]graphql.Field, 0, len(payloadFields)+1)
	for _, f := range payloadFields {
		fields = append(fields, graphql.Field{Name: f})
	}
	fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}})

	near := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	query := s.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(near).
		WithLimit(searchLimit(topK, filterSets)).
		WithFields(fields...)

	if where := pushdownFilter(filterSets); where != nil {
		query = query.WithWhere(where)
	}

	res, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: weaviate search: %v", vector.ErrUnavailable, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql error: %v", res.Errors[0].Message)
	}

	var hits []vector.Hit
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return hits, nil
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return hits, nil
	}

	for _, o := range objects {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		if !matchesResidual(props, filterSets) {
			continue
		}
		hit := vector.Hit{}
		if id, ok := props["chunkId"].(string); ok {
			hit.ChunkID = id
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			switch c := additional["certainty"].(type) {
			case float64:
				hit.Score = vector.ClampScore(c)
			case string:
				// Some server versions serialize certainty as a string.
				if f, err := strconv.ParseFloat(c, 64); err == nil {
					hit.Score = vector.ClampScore(f)
				}
			}
		}
		hits = append(hits, hit)
	}

	vector.SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Store) CountChunks(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: weaviate aggregate: %v", vector.ErrUnavailable, err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("weaviate graphql error: %v", res.Errors[0].Message)
	}

	data, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := data[className].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	if count, ok := meta["count"].(float64); ok {
		return int(count), nil
	}
	return 0, nil
}

// pushdownFilter builds the server-side where clause: one Equal condition per
// filtered field, using the field's first allowed value. Additional values are
// handled in matchesResidual after results come back.
func pushdownFilter(filterSets map[string][]string) *filters.WhereBuilder {
	var conds []*filters.WhereBuilder
	for field, values := range filterSets {
		if len(values) != 1 {
			continue
		}
		conds = append(conds, filters.Where().
			WithPath([]string{field}).
			WithOperator(filters.Equal).
			WithValueString(values[0]))
	}
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(conds)
	}
}

// matchesResidual applies the filter values that could not be pushed down.
func matchesResidual(props map[string]interface{}, filterSets map[string][]string) bool {
	for field, values := range filterSets {
		if len(values) <= 1 {
			continue
		}
		got, _ := props[field].(string)
		found := false
		for _, v := range values {
			if got == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// searchLimit over-fetches when client-side filtering may discard results.
func searchLimit(topK int, filterSets map[string][]string) int {
	for _, values := range filterSets {
		if len(values) > 1 {
			return topK * 4
		}
	}
	return topK
}
