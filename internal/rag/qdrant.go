package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore is a VectorStore backed by a Qdrant server. Each namespace
// maps to one collection.
type QdrantStore struct {
	client *qdrant.Client

	mu     sync.Mutex
	known  map[string]bool
	dim    uint64
}

// QdrantConfig configures the Qdrant connection.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// VectorSize is the embedding dimensionality used when creating
	// collections. Defaults to 1536 (text-embedding-3-small).
	VectorSize uint64
}

// NewQdrantStore connects to Qdrant.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.VectorSize == 0 {
		cfg.VectorSize = 1536
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return &QdrantStore{client: client, known: make(map[string]bool), dim: cfg.VectorSize}, nil
}

// ensureCollection creates the namespace collection on first use.
func (s *QdrantStore) ensureCollection(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known[namespace] {
		return nil
	}
	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", namespace, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: namespace,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.dim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", namespace, err)
		}
	}
	s.known[namespace] = true
	return nil
}

// Upsert implements VectorStore.
func (s *QdrantStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, namespace); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		payload := map[string]any{
			"type":    r.Type,
			"title":   r.Title,
			"content": r.Content,
		}
		if len(r.Metadata) > 0 {
			payload["metadata"] = r.Metadata
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: namespace,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), namespace, err)
	}
	return nil
}

// Delete implements VectorStore.
func (s *QdrantStore) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: namespace,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("delete points from %s: %w", namespace, err)
	}
	return nil
}

// Search implements VectorStore.
func (s *QdrantStore) Search(ctx context.Context, namespace string, vector []float32, limit int, threshold float32, typeFilter string) ([]Match, error) {
	query := &qdrant.QueryPoints{
		CollectionName: namespace,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(threshold),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if typeFilter != "" {
		query.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("type", typeFilter)},
		}
	}
	points, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", namespace, err)
	}

	out := make([]Match, 0, len(points))
	for _, p := range points {
		m := Match{Score: p.GetScore()}
		if id := p.GetId(); id != nil {
			m.ID = id.GetUuid()
		}
		payload := p.GetPayload()
		if v, ok := payload["type"]; ok {
			m.Type = v.GetStringValue()
		}
		if v, ok := payload["title"]; ok {
			m.Title = v.GetStringValue()
		}
		if v, ok := payload["content"]; ok {
			m.Content = v.GetStringValue()
		}
		if v, ok := payload["metadata"]; ok {
			if st := v.GetStructValue(); st != nil {
				m.Metadata = structToMap(st)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func structToMap(s *qdrant.Struct) map[string]any {
	out := make(map[string]any, len(s.GetFields()))
	for k, v := range s.GetFields() {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_StructValue:
		return structToMap(kind.StructValue)
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, valueToAny(item))
		}
		return out
	default:
		return nil
	}
}
