package weaviate

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"sibyl/internal/vector"
)

// Store implements vector.Index on one Weaviate class. Object UUIDs equal
// the chunk ids, so re-ingesting a document overwrites its objects instead
// of duplicating them.
type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Upsert(ctx context.Context, entries []vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	objs := make([]*models.Object, 0, len(entries))
	for _, e := range entries {
		objs = append(objs, &models.Object{
			Class: vector.ClassName,
			ID:    strfmt.UUID(e.ChunkID),
			Properties: map[string]interface{}{
				"content":    e.Text,
				"documentId": e.DocumentID,
				"title":      e.Title,
				"uri":        e.URI,
				"seq":        e.Seq,
			},
			Vector: models.C11yVector(e.Vector),
		})
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range res {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch upsert: %s", r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, k int) ([]vector.Hit, error) {
	hits := make([]vector.Hit, 0, k)
	if k <= 0 {
		return hits, nil
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "documentId"},
		{Name: "title"},
		{Name: "uri"},
		{Name: "seq"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return hits, nil
	}
	raw, ok := data[vector.ClassName].([]interface{})
	if !ok {
		return hits, nil
	}

	for _, item := range raw {
		props, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		var h vector.Hit
		if content, ok := props["content"].(string); ok {
			h.Entry.Text = content
		}
		if docID, ok := props["documentId"].(string); ok {
			h.Entry.DocumentID = docID
		}
		if title, ok := props["title"].(string); ok {
			h.Entry.Title = title
		}
		if uri, ok := props["uri"].(string); ok {
			h.Entry.URI = uri
		}
		if seq, ok := props["seq"].(float64); ok {
			h.Entry.Seq = int(seq)
		}

		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				h.Entry.ChunkID = id
			}
			if distance, ok := additional["distance"].(float64); ok {
				// Cosine distance is 1 - similarity.
				h.Score = 1 - distance
			}
		}

		hits = append(hits, h)
	}
	return hits, nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueString(documentID)).
		Do(ctx)
	return err
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors)
	}

	data, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	agg, ok := data[vector.ClassName].([]interface{})
	if !ok || len(agg) == 0 {
		return 0, nil
	}
	first, ok := agg[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := first["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}

// Clear deletes every object in the class. Batch deletion caps matches per
// call, so it loops until nothing matches.
func (s *Store) Clear(ctx context.Context) error {
	for {
		res, err := s.client.Batch().ObjectsBatchDeleter().
			WithClassName(vector.ClassName).
			WithOutput("minimal").
			WithWhere(filters.Where().
				WithPath([]string{"documentId"}).
				WithOperator(filters.Like).
				WithValueString("*")).
			Do(ctx)
		if err != nil {
			return err
		}
		if res == nil || res.Results == nil || res.Results.Matches == 0 {
			return nil
		}
	}
}
