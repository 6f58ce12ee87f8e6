package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/richinex/agentdock/internal/logger"
	"github.com/richinex/agentdock/metrics"
	"github.com/richinex/agentdock/storage"
	"github.com/richinex/agentdock/tools"
)

// NoResults is returned by Search when the agent has no chunks.
const NoResults = "No relevant information found."

// ResultSeparator joins the texts of multiple matches.
const ResultSeparator = "\n\n---\n\n"

// DefaultTopK is the number of chunks returned when none is requested.
const DefaultTopK = 1

// IngestRequest is one uploaded file.
type IngestRequest struct {
	AgentID     string
	Name        string
	ContentType string
	Data        []byte
}

// Pipeline runs ingestion (extract, split, embed, persist) and queries.
type Pipeline struct {
	store    storage.DocumentStore
	embedder Embedder
	index    Index
	splitter *Splitter
	topK     int
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIndex replaces the default scan index.
func WithIndex(idx Index) Option {
	return func(p *Pipeline) { p.index = idx }
}

// WithSplitter replaces the default splitter.
func WithSplitter(s *Splitter) Option {
	return func(p *Pipeline) { p.splitter = s }
}

// WithTopK sets the default number of matches.
func WithTopK(k int) Option {
	return func(p *Pipeline) {
		if k > 0 {
			p.topK = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline over store using embedder for both
// ingestion and queries.
func NewPipeline(store storage.DocumentStore, embedder Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		embedder: embedder,
		splitter: NewSplitter(DefaultChunkSize, DefaultChunkOverlap),
		topK:     DefaultTopK,
		logger:   logger.Named("retrieval"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.index == nil {
		p.index = NewScanIndex(store)
	}
	return p
}

// Ingest stores req as a document with embedded chunks. Unsupported types
// are rejected before any extraction or embedding.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (storage.Document, error) {
	contentType := NormalizeContentType(req.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = DetectContentType(req.Name, req.Data)
	}
	if !Supported(contentType) {
		return storage.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	text, err := Extract(ctx, contentType, req.Data)
	if err != nil {
		return storage.Document{}, err
	}
	pieces := p.splitter.Split(text)

	var vectors [][]float32
	if len(pieces) > 0 {
		vectors, err = p.embedder.Embed(ctx, pieces)
		if err != nil {
			return storage.Document{}, fmt.Errorf("failed to embed chunks: %w", err)
		}
		if len(vectors) != len(pieces) {
			return storage.Document{}, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(pieces))
		}
	}

	chunks := make([]storage.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = storage.Chunk{Index: i, Text: piece, Embedding: vectors[i]}
	}

	doc := storage.Document{
		AgentID:     req.AgentID,
		Name:        req.Name,
		ContentType: contentType,
		Size:        int64(len(req.Data)),
	}
	if err := p.store.CreateDocument(ctx, &doc, chunks); err != nil {
		return storage.Document{}, err
	}
	if err := p.index.Add(ctx, req.AgentID, chunks); err != nil {
		p.logger.Warn("index update failed", "document", doc.ID, "error", err)
	}

	metrics.ChunksIngested(len(chunks))
	p.logger.Info("document ingested", "agent", req.AgentID, "document", doc.ID, "chunks", len(chunks))
	return doc, nil
}

// Search embeds query and returns the texts of the k nearest chunks joined
// by ResultSeparator, or NoResults when the agent has no chunks. k <= 0
// uses the configured default.
func (p *Pipeline) Search(ctx context.Context, agentID, query string, k int) (string, error) {
	if k <= 0 {
		k = p.topK
	}

	n, err := p.index.Len(ctx, agentID)
	if err != nil {
		metrics.RetrievalSearch("error")
		return "", fmt.Errorf("failed to read index: %w", err)
	}
	if n == 0 {
		metrics.RetrievalSearch("empty")
		return NoResults, nil
	}

	vectors, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		metrics.RetrievalSearch("error")
		return "", fmt.Errorf("%w: failed to embed query: %w", tools.ErrFatal, err)
	}
	if len(vectors) != 1 {
		metrics.RetrievalSearch("error")
		return "", fmt.Errorf("%w: embedder returned no vector for the query", tools.ErrFatal)
	}

	matches, err := p.index.Search(ctx, agentID, vectors[0], k)
	if err != nil {
		metrics.RetrievalSearch("error")
		return "", err
	}
	if len(matches) == 0 {
		metrics.RetrievalSearch("empty")
		return NoResults, nil
	}

	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Chunk.Text
	}
	metrics.RetrievalSearch("hit")
	p.logger.Debug("search", "agent", agentID, "matches", len(matches), "best_distance", matches[0].Distance)
	return strings.Join(texts, ResultSeparator), nil
}

// Delete removes a document and its chunks from the store and the index.
func (p *Pipeline) Delete(ctx context.Context, agentID, documentID string) error {
	if err := p.store.DeleteDocument(ctx, agentID, documentID); err != nil {
		return err
	}
	if err := p.index.Remove(ctx, agentID, documentID); err != nil {
		p.logger.Warn("index removal failed", "document", documentID, "error", err)
	}
	return nil
}

var _ tools.Searcher = (*Pipeline)(nil)
