package vecstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/showdoc/docqa/internal/fault"
)

// Payload field names used in Qdrant points.
const (
	fieldItemID    = "item_id"
	fieldDocID     = "doc_id"
	fieldVersion   = "version"
	fieldSeq       = "seq"
	fieldTitle     = "title"
	fieldText      = "text"
	fieldSpanStart = "span_start"
	fieldSpanEnd   = "span_end"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// CollectionPrefix is prepended to item IDs to form collection names,
	// one collection per item (default: docqa_item_).
	CollectionPrefix string

	// VectorSize is the dimensionality of the embeddings stored per collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements Store backed by a Qdrant instance. Each item gets
// its own collection named CollectionPrefix + itemID, so item isolation is
// enforced by the partitioning scheme itself.
type QdrantStore struct {
	client *qdrant.Client
	cfg    *QdrantConfig
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant and returns a ready-to-use store.
// Collections are created lazily on first upsert into an item.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "docqa_item_"
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg}, nil
}

// collection returns the collection name for an item.
func (s *QdrantStore) collection(itemID string) string {
	return s.cfg.CollectionPrefix + itemID
}

// ensureCollection creates the item's collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context, itemID string) error {
	name := s.collection(itemID)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fault.Transient("vecstore.ensure", fmt.Errorf("qdrant: failed to check collection existence: %w", err))
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fault.Transient("vecstore.ensure", fmt.Errorf("qdrant: failed to create collection %q: %w", name, err))
	}

	return nil
}

// Upsert stores or replaces entries in the item's collection, creating the
// collection on first use. Re-upserting an existing ChunkID replaces the
// stored vector and payload.
func (s *QdrantStore) Upsert(ctx context.Context, itemID string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, itemID); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(e.ChunkID),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				fieldItemID:    e.Payload.ItemID,
				fieldDocID:     e.Payload.DocID,
				fieldVersion:   e.Payload.Version,
				fieldSeq:       int64(e.Payload.Seq),
				fieldTitle:     e.Payload.Title,
				fieldText:      e.Payload.Text,
				fieldSpanStart: int64(e.Payload.SpanStart),
				fieldSpanEnd:   int64(e.Payload.SpanEnd),
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection(itemID),
		Points:         points,
	})
	if err != nil {
		return fault.Transient("vecstore.upsert", fmt.Errorf("qdrant: upsert failed: %w", err))
	}

	return nil
}

// DeleteDocument removes a document's points from the item's collection,
// optionally restricted to versions below versionLT.
func (s *QdrantStore) DeleteDocument(ctx context.Context, itemID, docID string, versionLT int64) error {
	name := s.collection(itemID)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fault.Transient("vecstore.delete", fmt.Errorf("qdrant: failed to check collection existence: %w", err))
	}
	if !exists {
		return nil
	}

	must := []*qdrant.Condition{qdrant.NewMatch(fieldDocID, docID)}
	if versionLT > 0 {
		lt := float64(versionLT)
		must = append(must, qdrant.NewRange(fieldVersion, &qdrant.Range{Lt: &lt}))
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{Must: must}),
	})
	if err != nil {
		return fault.Transient("vecstore.delete", fmt.Errorf("qdrant: delete failed: %w", err))
	}

	return nil
}

// DeleteItem drops the item's collection entirely.
func (s *QdrantStore) DeleteItem(ctx context.Context, itemID string) error {
	name := s.collection(itemID)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fault.Transient("vecstore.deleteitem", fmt.Errorf("qdrant: failed to check collection existence: %w", err))
	}
	if !exists {
		return nil
	}

	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fault.Transient("vecstore.deleteitem", fmt.Errorf("qdrant: failed to delete collection %q: %w", name, err))
	}

	return nil
}

// Search performs a cosine similarity search within the item's collection.
func (s *QdrantStore) Search(ctx context.Context, itemID string, vector []float32, topK int) ([]Result, error) {
	name := s.collection(itemID)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fault.Transient("vecstore.search", fmt.Errorf("qdrant: failed to check collection existence: %w", err))
	}
	if !exists {
		return nil, nil
	}

	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fault.Transient("vecstore.search", fmt.Errorf("qdrant: search failed: %w", err))
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		r := Result{
			ChunkID: p.Id.GetUuid(),
			Score:   p.Score,
		}
		if pl := p.Payload; pl != nil {
			r.Payload = Payload{
				ItemID:    pl[fieldItemID].GetStringValue(),
				DocID:     pl[fieldDocID].GetStringValue(),
				Version:   pl[fieldVersion].GetIntegerValue(),
				Seq:       int(pl[fieldSeq].GetIntegerValue()),
				Title:     pl[fieldTitle].GetStringValue(),
				Text:      pl[fieldText].GetStringValue(),
				SpanStart: int(pl[fieldSpanStart].GetIntegerValue()),
				SpanEnd:   int(pl[fieldSpanEnd].GetIntegerValue()),
			}
		}
		results = append(results, r)
	}

	sortResults(results)
	return results, nil
}

// Count returns the number of points in the item's collection.
func (s *QdrantStore) Count(ctx context.Context, itemID string) (uint64, error) {
	name := s.collection(itemID)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return 0, fault.Transient("vecstore.count", fmt.Errorf("qdrant: failed to check collection existence: %w", err))
	}
	if !exists {
		return 0, nil
	}

	n, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: name})
	if err != nil {
		return 0, fault.Transient("vecstore.count", fmt.Errorf("qdrant: count failed: %w", err))
	}

	return n, nil
}

// ListItems returns the item IDs of all collections carrying this store's
// prefix. Collections created by other tenants of the Qdrant instance are
// ignored.
func (s *QdrantStore) ListItems(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fault.Transient("vecstore.list", fmt.Errorf("qdrant: failed to list collections: %w", err))
	}

	items := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, s.cfg.CollectionPrefix) {
			items = append(items, strings.TrimPrefix(name, s.cfg.CollectionPrefix))
		}
	}

	return items, nil
}

// Client exposes the underlying Qdrant client for readiness probes.
func (s *QdrantStore) Client() *qdrant.Client {
	return s.client
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
