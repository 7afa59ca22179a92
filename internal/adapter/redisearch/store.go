package redisearch

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"sibyl/internal/vector"
)

const (
	IndexName = "sibyl-chunks"
	keyPrefix = "chunk:"

	hnswEFConstruction = 200
	hnswM              = 16

	fieldContent    = "content"
	fieldVector     = "vector"
	fieldDocumentID = "document_id"
	fieldTitle      = "title"
	fieldURI        = "uri"
	fieldSeq        = "seq"
	scoreAlias      = "score"

	deleteBatchSize = 1000
)

// Store implements vector.Index on Redis with the RediSearch module. Each
// chunk lives in one hash keyed by its chunk id, so HSET doubles as the
// upsert and key deletion drops the chunk from the index.
type Store struct {
	client *redis.Client
	dim    int
}

// NewStore returns a Store for vectors of the given dimension. The dimension
// is fixed at index creation, so it must match the embedder in use.
func NewStore(client *redis.Client, dim int) *Store {
	return &Store{client: client, dim: dim}
}

// EnsureIndex creates the HNSW index if it does not exist yet.
func (s *Store) EnsureIndex(ctx context.Context) error {
	if _, err := s.client.Do(ctx, "FT.INFO", IndexName).Result(); err == nil {
		return nil
	}

	_, err := s.client.Do(ctx, "FT.CREATE", IndexName,
		"ON", "HASH",
		"PREFIX", "1", keyPrefix,
		"SCHEMA",
		fieldVector, "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(s.dim),
		"DISTANCE_METRIC", "COSINE",
		"EF_CONSTRUCTION", strconv.Itoa(hnswEFConstruction),
		"M", strconv.Itoa(hnswM),
		fieldContent, "TEXT",
		fieldDocumentID, "TAG",
		fieldTitle, "TEXT",
		fieldURI, "TEXT",
		fieldSeq, "NUMERIC",
	).Result()
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, entries []vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, e := range entries {
		pipe.HSet(ctx, keyPrefix+e.ChunkID,
			fieldContent, e.Text,
			fieldVector, encodeVector(e.Vector),
			fieldDocumentID, e.DocumentID,
			fieldTitle, e.Title,
			fieldURI, e.URI,
			fieldSeq, e.Seq,
		)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, k int) ([]vector.Hit, error) {
	hits := make([]vector.Hit, 0, k)
	if k <= 0 {
		return hits, nil
	}

	queryStr := fmt.Sprintf("*=>[KNN %d @%s $query_vector AS %s]", k, fieldVector, scoreAlias)

	res, err := s.client.Do(ctx, "FT.SEARCH", IndexName, queryStr,
		"PARAMS", "2", "query_vector", encodeVector(vec),
		"RETURN", "6", fieldContent, fieldDocumentID, fieldTitle, fieldURI, fieldSeq, scoreAlias,
		"SORTBY", scoreAlias,
		"LIMIT", "0", strconv.Itoa(k),
		"DIALECT", "2",
	).Result()
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	return append(hits, parseSearchReply(res)...), nil
}

// parseSearchReply walks an FT.SEARCH reply, [count, key, fields, ...],
// where fields alternate name and value.
func parseSearchReply(res interface{}) []vector.Hit {
	values, ok := res.([]interface{})
	if !ok || len(values) < 3 {
		return nil
	}

	var hits []vector.Hit
	for i := 1; i+1 < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			continue
		}
		fields, ok := values[i+1].([]interface{})
		if !ok {
			continue
		}

		h := vector.Hit{Entry: vector.Entry{ChunkID: strings.TrimPrefix(key, keyPrefix)}}
		for j := 0; j+1 < len(fields); j += 2 {
			name, ok := fields[j].(string)
			if !ok {
				continue
			}
			val, ok := fields[j+1].(string)
			if !ok {
				continue
			}
			switch name {
			case fieldContent:
				h.Entry.Text = val
			case fieldDocumentID:
				h.Entry.DocumentID = val
			case fieldTitle:
				h.Entry.Title = val
			case fieldURI:
				h.Entry.URI = val
			case fieldSeq:
				if seq, err := strconv.Atoi(val); err == nil {
					h.Entry.Seq = seq
				}
			case scoreAlias:
				if dist, err := strconv.ParseFloat(val, 64); err == nil {
					// Cosine distance is 1 - similarity.
					h.Score = 1 - dist
				}
			}
		}
		hits = append(hits, h)
	}
	return hits
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	query := fmt.Sprintf("@%s:{%s}", fieldDocumentID, escapeTag(documentID))

	for {
		res, err := s.client.Do(ctx, "FT.SEARCH", IndexName, query,
			"NOCONTENT",
			"LIMIT", "0", strconv.Itoa(deleteBatchSize),
			"DIALECT", "2",
		).Result()
		if err != nil {
			return fmt.Errorf("find chunks for document %s: %w", documentID, err)
		}

		values, ok := res.([]interface{})
		if !ok || len(values) < 2 {
			return nil
		}

		// NOCONTENT replies are [count, key, key, ...]; the keys are the
		// full hash keys.
		keys := make([]string, 0, len(values)-1)
		for _, v := range values[1:] {
			if key, ok := v.(string); ok {
				keys = append(keys, key)
			}
		}
		if len(keys) == 0 {
			return nil
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if len(keys) < deleteBatchSize {
			return nil
		}
	}
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.Do(ctx, "FT.INFO", IndexName).Result()
	if err != nil {
		return 0, fmt.Errorf("index info: %w", err)
	}
	return parseInfoCount(res)
}

// parseInfoCount pulls num_docs out of an FT.INFO reply. The server reports
// counters as integers or bulk strings depending on version.
func parseInfoCount(res interface{}) (int, error) {
	values, ok := res.([]interface{})
	if !ok {
		return 0, nil
	}
	for i := 0; i+1 < len(values); i += 2 {
		name, ok := values[i].(string)
		if !ok || name != "num_docs" {
			continue
		}
		switch v := values[i+1].(type) {
		case int64:
			return int(v), nil
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("parse num_docs %q: %w", v, err)
			}
			return n, nil
		}
	}
	return 0, nil
}

func (s *Store) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", deleteBatchSize).Iterator()

	keys := make([]string, 0, deleteBatchSize)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == deleteBatchSize {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return s.client.Del(ctx, keys...).Err()
	}
	return nil
}

// encodeVector packs float32 components little-endian, the layout FLOAT32
// vector fields expect.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// escapeTag escapes the punctuation the query parser treats as separators
// inside TAG predicates. Document ids are UUIDs, so hyphens are the case
// that matters.
func escapeTag(s string) string {
	return strings.NewReplacer("-", "\\-", ".", "\\.", ":", "\\:", "{", "\\{", "}", "\\}").Replace(s)
}
