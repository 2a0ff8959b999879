package semantic

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/pkg/fn"
	"github.com/WessleyAI/anglish-lexicon/pkg/jsonl"
)

// UpsertBatch is the number of synsets sent per upsert call.
const UpsertBatch = 1000

// SynsetIndex is the reference lexicon's vector index.
type SynsetIndex struct {
	store *VectorStore
}

// NewSynsetIndex wraps store.
func NewSynsetIndex(store *VectorStore) *SynsetIndex {
	return &SynsetIndex{store: store}
}

// PointID maps a synset id onto a stable Qdrant point id.
func PointID(synsetID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("synset:"+synsetID)).String()
}

// EnsureIndex creates the cosine index with dims dimensions.
func (x *SynsetIndex) EnsureIndex(ctx context.Context, dims int) error {
	return x.store.EnsureCollection(ctx, dims)
}

// Reset drops every indexed synset and recreates the index with dims
// dimensions.
func (x *SynsetIndex) Reset(ctx context.Context, dims int) error {
	return x.store.RecreateCollection(ctx, dims)
}

// UpsertSynsets writes embeddings in batches of UpsertBatch.
func (x *SynsetIndex) UpsertSynsets(ctx context.Context, items []SynsetEmbedding) error {
	for _, chunk := range fn.Chunk(items, UpsertBatch) {
		batch := fn.Map(chunk, func(s SynsetEmbedding) VectorRecord {
			return VectorRecord{
				ID:        PointID(s.ID),
				Embedding: s.Embedding,
				Payload: map[string]any{
					"id":       s.ID,
					"pos":      s.POS,
					"category": s.Category,
					"headword": s.Headword,
				},
			}
		})
		if err := x.store.Upsert(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// LoadEmbeddings streams a synset_embeddings.jsonl file into the index and
// returns the number of synsets written.
func (x *SynsetIndex) LoadEmbeddings(ctx context.Context, path string) (int, error) {
	var (
		batch []SynsetEmbedding
		total int
	)
	for s, err := range jsonl.Read[SynsetEmbedding](path) {
		if err != nil {
			return total, fmt.Errorf("semantic: load embeddings: %w", err)
		}
		batch = append(batch, s)
		if len(batch) == UpsertBatch {
			if err := x.UpsertSynsets(ctx, batch); err != nil {
				return total, err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if err := x.UpsertSynsets(ctx, batch); err != nil {
		return total, err
	}
	return total + len(batch), nil
}

// KNN returns the k reference senses nearest to vec with the same part of
// speech. Distance is 1 - cosine similarity.
func (x *SynsetIndex) KNN(ctx context.Context, vec []float32, pos domain.POS, k int) ([]Hit, error) {
	res, err := x.store.Search(ctx, vec, k, map[string]string{"pos": string(pos)})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(res))
	for i, r := range res {
		hits[i] = Hit{
			ID:       r.Payload["id"],
			POS:      r.Payload["pos"],
			Category: r.Payload["category"],
			Headword: r.Payload["headword"],
			Distance: 1 - float64(r.Score),
		}
	}
	return hits, nil
}
