package retrieval

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/richinex/agentdock/storage"
)

// Match is a ranked chunk. Distance is the cosine distance to the query.
type Match struct {
	Chunk    storage.Chunk
	Distance float64
}

// Index ranks an agent's chunks against a query vector.
type Index interface {
	// Search returns up to k matches ordered by ascending distance.
	Search(ctx context.Context, agentID string, vector []float32, k int) ([]Match, error)
	// Len reports how many chunks the agent has.
	Len(ctx context.Context, agentID string) (int, error)
	// Add makes freshly stored chunks searchable.
	Add(ctx context.Context, agentID string, chunks []storage.Chunk) error
	// Remove drops a deleted document's chunks.
	Remove(ctx context.Context, agentID, documentID string) error
}

// CosineDistance returns 1 - cos(a, b). Mismatched or zero vectors are
// maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// ScanIndex ranks by brute force over the store's chunks.
type ScanIndex struct {
	store storage.DocumentStore
}

// NewScanIndex creates an index reading from store on every search.
func NewScanIndex(store storage.DocumentStore) *ScanIndex {
	return &ScanIndex{store: store}
}

func (s *ScanIndex) Search(ctx context.Context, agentID string, vector []float32, k int) ([]Match, error) {
	chunks, err := s.store.ListChunks(ctx, agentID)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, len(chunks))
	for i, c := range chunks {
		matches[i] = Match{Chunk: c, Distance: CosineDistance(vector, c.Embedding)}
	}
	// stable keeps storage order among ties
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *ScanIndex) Len(ctx context.Context, agentID string) (int, error) {
	return s.store.CountChunks(ctx, agentID)
}

func (s *ScanIndex) Add(context.Context, string, []storage.Chunk) error { return nil }

func (s *ScanIndex) Remove(context.Context, string, string) error { return nil }

// ChromemIndex keeps one in-memory chromem collection per agent. A
// collection is hydrated from the store the first time the agent is touched.
type ChromemIndex struct {
	store storage.DocumentStore
	db    *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemIndex creates an empty index backed by store.
func NewChromemIndex(store storage.DocumentStore) *ChromemIndex {
	return &ChromemIndex{
		store:       store,
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// precomputed is installed as the collection's embedding func; vectors always
// arrive already embedded.
func precomputed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("chromem index: embeddings must be precomputed")
}

func (c *ChromemIndex) collection(ctx context.Context, agentID string) (*chromem.Collection, error) {
	c.mu.RLock()
	col, ok := c.collections[agentID]
	c.mu.RUnlock()
	if ok {
		return col, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.collections[agentID]; ok {
		return col, nil
	}

	col, err := c.db.GetOrCreateCollection("agent-"+agentID, nil, precomputed)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	chunks, err := c.store.ListChunks(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := addChunks(ctx, col, chunks); err != nil {
		return nil, err
	}
	c.collections[agentID] = col
	return col, nil
}

func addChunks(ctx context.Context, col *chromem.Collection, chunks []storage.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(chunks))
	for i, ch := range chunks {
		docs[i] = chromem.Document{
			ID:        ch.ID,
			Content:   ch.Text,
			Embedding: ch.Embedding,
			Metadata: map[string]string{
				"document_id": ch.DocumentID,
				"index":       strconv.Itoa(ch.Index),
			},
		}
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

func (c *ChromemIndex) Search(ctx context.Context, agentID string, vector []float32, k int) ([]Match, error) {
	col, err := c.collection(ctx, agentID)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if k <= 0 || k > n {
		k = n
	}

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	matches := make([]Match, len(results))
	for i, r := range results {
		idx, _ := strconv.Atoi(r.Metadata["index"])
		matches[i] = Match{
			Chunk: storage.Chunk{
				ID:         r.ID,
				DocumentID: r.Metadata["document_id"],
				AgentID:    agentID,
				Index:      idx,
				Text:       r.Content,
			},
			Distance: 1 - float64(r.Similarity),
		}
	}
	return matches, nil
}

func (c *ChromemIndex) Len(ctx context.Context, agentID string) (int, error) {
	col, err := c.collection(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (c *ChromemIndex) Add(ctx context.Context, agentID string, chunks []storage.Chunk) error {
	c.mu.RLock()
	col, ok := c.collections[agentID]
	c.mu.RUnlock()
	if !ok {
		// hydration on first search will pick the chunks up from the store
		return nil
	}
	return addChunks(ctx, col, chunks)
}

func (c *ChromemIndex) Remove(ctx context.Context, agentID, documentID string) error {
	c.mu.RLock()
	col, ok := c.collections[agentID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{"document_id": documentID}, nil); err != nil {
		return fmt.Errorf("failed to remove document: %w", err)
	}
	return nil
}
