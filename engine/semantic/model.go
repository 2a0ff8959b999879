package semantic

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// VectorRecord represents a single vector to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any
}

// SynsetEmbedding is one line of synset_embeddings.jsonl.
type SynsetEmbedding struct {
	ID        string    `json:"id"`
	Headword  string    `json:"headword"`
	POS       string    `json:"pos"`
	Category  string    `json:"category"`
	Embedding []float32 `json:"embedding"`
}

// Hit is a reference sense returned by a k-NN query. Lower Distance is closer.
type Hit struct {
	ID       string  `json:"refSenseId"`
	POS      string  `json:"pos"`
	Category string  `json:"category"`
	Headword string  `json:"headword"`
	Distance float64 `json:"rawScore"`
}
