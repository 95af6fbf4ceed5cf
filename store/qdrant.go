package store

import (
	"context"
	"fmt"
	"log"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore keeps points in a Qdrant collection over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimensions int
}

// NewQdrantStore connects to Qdrant. Endpoints may carry an http(s) scheme, which is ignored.
func NewQdrantStore(ctx context.Context, endpoint string, port int, useTLS bool, collection, apiKey string, dimensions int) (*QdrantStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid vector dimensions: %d", dimensions)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   stripScheme(endpoint),
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantStore{
		client:     client,
		collection: collection,
		dimensions: dimensions,
	}, nil
}

func (s *QdrantStore) Collection() string {
	return s.collection
}

func (s *QdrantStore) Initialize(ctx context.Context) (bool, error) {
	exists, err := s.CollectionExists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		log.Printf("Failed to create qdrant collection %s: %v", s.collection, err)
		return false, fmt.Errorf("failed to create collection: %w", err)
	}

	// Deletes filter on filePath, so index it.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      PayloadFilePath,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		log.Printf("Warning: failed to create filePath index on %s: %v", s.collection, err)
	}

	return true, nil
}

func (s *QdrantStore) UpsertPoints(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				PayloadFilePath:  p.Payload.FilePath,
				PayloadCodeChunk: p.Payload.CodeChunk,
				PayloadStartLine: int64(p.Payload.StartLine),
				PayloadEndLine:   int64(p.Payload.EndLine),
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		log.Printf("Failed to upsert %d points into %s: %v", len(points), s.collection, err)
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (s *QdrantStore) DeletePointsByFilePath(ctx context.Context, filePath string) error {
	return s.DeletePointsByFilePaths(ctx, []string{filePath})
}

func (s *QdrantStore) DeletePointsByFilePaths(ctx context.Context, filePaths []string) error {
	paths := normalizePaths(filePaths)
	if len(paths) == 0 {
		return nil
	}

	conditions := make([]*qdrant.Condition, 0, len(paths))
	for _, p := range paths {
		conditions = append(conditions, qdrant.NewMatch(PayloadFilePath, p))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{Should: conditions}),
	})
	if err != nil {
		log.Printf("Failed to delete points for %d files from %s: %v", len(paths), s.collection, err)
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		log.Printf("Failed to search %s: %v", s.collection, err)
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		payload, ok := payloadFromQdrant(hit.GetPayload())
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			ID:      hit.GetId().GetUuid(),
			Score:   hit.GetScore(),
			Payload: payload,
		})
	}
	return results, nil
}

func payloadFromQdrant(values map[string]*qdrant.Value) (Payload, bool) {
	filePath, ok1 := values[PayloadFilePath]
	chunk, ok2 := values[PayloadCodeChunk]
	start, ok3 := values[PayloadStartLine]
	end, ok4 := values[PayloadEndLine]
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Payload{}, false
	}

	p := Payload{
		FilePath:  filePath.GetStringValue(),
		CodeChunk: chunk.GetStringValue(),
		StartLine: int(start.GetIntegerValue()),
		EndLine:   int(end.GetIntegerValue()),
	}
	return p, p.valid()
}

func (s *QdrantStore) CollectionExists(ctx context.Context) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		log.Printf("Failed to check qdrant collection %s: %v", s.collection, err)
		return false, fmt.Errorf("failed to check collection: %w", err)
	}
	return exists, nil
}

func (s *QdrantStore) ClearCollection(ctx context.Context) error {
	exists, err := s.CollectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{}),
	})
	if err != nil {
		log.Printf("Failed to clear qdrant collection %s: %v", s.collection, err)
		return fmt.Errorf("failed to clear collection: %w", err)
	}
	return nil
}

func (s *QdrantStore) DeleteCollection(ctx context.Context) error {
	exists, err := s.CollectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		log.Printf("Failed to delete qdrant collection %s: %v", s.collection, err)
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}
