// In-memory Store.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/richinex/agentdock/llm"
)

// MemoryStore implements Store using in-memory maps.
// Data is lost when process terminates.
type MemoryStore struct {
	mu        sync.RWMutex
	agents    map[string]Agent
	documents map[string]Document
	chunks    map[string][]Chunk // by document id
	openapis  map[string]OpenAPIIntegration
	mcps      map[string]MCPIntegration
	sessions  map[string][]llm.ChatMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:    make(map[string]Agent),
		documents: make(map[string]Document),
		chunks:    make(map[string][]Chunk),
		openapis:  make(map[string]OpenAPIIntegration),
		mcps:      make(map[string]MCPIntegration),
		sessions:  make(map[string][]llm.ChatMessage),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateAgent(ctx context.Context, agent *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	agent.CreatedAt = now()
	agent.UpdatedAt = agent.CreatedAt
	s.agents[agent.ID] = *agent
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, userID, id string) (Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok || a.UserID != userID {
		return Agent{}, fmt.Errorf("agent: %w", ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) ListAgents(ctx context.Context, userID string) ([]Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := []Agent{}
	for _, a := range s.agents {
		if a.UserID == userID {
			agents = append(agents, a)
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].ID < agents[j].ID
		}
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents, nil
}

func (s *MemoryStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.agents[agent.ID]
	if !ok || existing.UserID != agent.UserID {
		return fmt.Errorf("agent: %w", ErrNotFound)
	}
	agent.CreatedAt = existing.CreatedAt
	agent.UpdatedAt = now()
	s.agents[agent.ID] = *agent
	return nil
}

func (s *MemoryStore) DeleteAgent(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok || a.UserID != userID {
		return fmt.Errorf("agent: %w", ErrNotFound)
	}
	delete(s.agents, id)
	for docID, d := range s.documents {
		if d.AgentID == id {
			delete(s.documents, docID)
			delete(s.chunks, docID)
		}
	}
	for apiID, api := range s.openapis {
		if api.AgentID == id {
			delete(s.openapis, apiID)
		}
	}
	for mcpID, m := range s.mcps {
		if m.AgentID == id {
			delete(s.mcps, mcpID)
		}
	}
	return nil
}

// CreateDocument validates every chunk before storing anything, so a bad
// chunk leaves no trace.
func (s *MemoryStore) CreateDocument(ctx context.Context, doc *Document, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[doc.AgentID]; !ok {
		return fmt.Errorf("failed to insert document: agent %s: %w", doc.AgentID, ErrNotFound)
	}
	seen := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		if seen[c.Index] {
			return fmt.Errorf("failed to insert chunk %d: duplicate index", c.Index)
		}
		seen[c.Index] = true
	}

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.CreatedAt = now()

	stored := make([]Chunk, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.DocumentID = doc.ID
		c.AgentID = doc.AgentID
		stored[i] = *c
		stored[i].Embedding = append([]float32(nil), c.Embedding...)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Index < stored[j].Index })

	s.documents[doc.ID] = *doc
	s.chunks[doc.ID] = stored
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, agentID, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[id]
	if !ok || d.AgentID != agentID {
		return Document{}, fmt.Errorf("document: %w", ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) agentDocuments(agentID string) []Document {
	docs := []Document{}
	for _, d := range s.documents {
		if d.AgentID == agentID {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs
}

func (s *MemoryStore) ListDocuments(ctx context.Context, agentID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentDocuments(agentID), nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, agentID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[id]
	if !ok || d.AgentID != agentID {
		return fmt.Errorf("document: %w", ErrNotFound)
	}
	delete(s.documents, id)
	delete(s.chunks, id)
	return nil
}

func (s *MemoryStore) ListChunks(ctx context.Context, agentID string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Chunk{}
	for _, d := range s.agentDocuments(agentID) {
		for _, c := range s.chunks[d.ID] {
			c.Embedding = append([]float32(nil), c.Embedding...)
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountChunks(ctx context.Context, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, d := range s.agentDocuments(agentID) {
		n += len(s.chunks[d.ID])
	}
	return n, nil
}

func (s *MemoryStore) CreateOpenAPI(ctx context.Context, api *OpenAPIIntegration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if api.ID == "" {
		api.ID = uuid.NewString()
	}
	api.CreatedAt = now()
	s.openapis[api.ID] = *api
	return nil
}

func (s *MemoryStore) GetOpenAPI(ctx context.Context, agentID, id string) (OpenAPIIntegration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	api, ok := s.openapis[id]
	if !ok || api.AgentID != agentID {
		return OpenAPIIntegration{}, fmt.Errorf("openapi: %w", ErrNotFound)
	}
	return api, nil
}

func (s *MemoryStore) ListOpenAPIs(ctx context.Context, agentID string) ([]OpenAPIIntegration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apis := []OpenAPIIntegration{}
	for _, api := range s.openapis {
		if api.AgentID == agentID {
			apis = append(apis, api)
		}
	}
	sort.Slice(apis, func(i, j int) bool {
		if apis[i].CreatedAt.Equal(apis[j].CreatedAt) {
			return apis[i].ID < apis[j].ID
		}
		return apis[i].CreatedAt.Before(apis[j].CreatedAt)
	})
	return apis, nil
}

func (s *MemoryStore) UpdateOpenAPI(ctx context.Context, api *OpenAPIIntegration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.openapis[api.ID]
	if !ok || existing.AgentID != api.AgentID {
		return fmt.Errorf("openapi: %w", ErrNotFound)
	}
	api.CreatedAt = existing.CreatedAt
	s.openapis[api.ID] = *api
	return nil
}

func (s *MemoryStore) DeleteOpenAPI(ctx context.Context, agentID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	api, ok := s.openapis[id]
	if !ok || api.AgentID != agentID {
		return fmt.Errorf("openapi: %w", ErrNotFound)
	}
	delete(s.openapis, id)
	return nil
}

func (s *MemoryStore) CreateMCP(ctx context.Context, server *MCPIntegration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if server.ID == "" {
		server.ID = uuid.NewString()
	}
	server.CreatedAt = now()
	s.mcps[server.ID] = *server
	return nil
}

func (s *MemoryStore) GetMCP(ctx context.Context, agentID, id string) (MCPIntegration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mcps[id]
	if !ok || m.AgentID != agentID {
		return MCPIntegration{}, fmt.Errorf("mcp: %w", ErrNotFound)
	}
	return m, nil
}

func (s *MemoryStore) ListMCPs(ctx context.Context, agentID string) ([]MCPIntegration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := []MCPIntegration{}
	for _, m := range s.mcps {
		if m.AgentID == agentID {
			servers = append(servers, m)
		}
	}
	sort.Slice(servers, func(i, j int) bool {
		if servers[i].CreatedAt.Equal(servers[j].CreatedAt) {
			return servers[i].ID < servers[j].ID
		}
		return servers[i].CreatedAt.Before(servers[j].CreatedAt)
	})
	return servers, nil
}

func (s *MemoryStore) UpdateMCP(ctx context.Context, server *MCPIntegration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.mcps[server.ID]
	if !ok || existing.AgentID != server.AgentID {
		return fmt.Errorf("mcp: %w", ErrNotFound)
	}
	server.CreatedAt = existing.CreatedAt
	s.mcps[server.ID] = *server
	return nil
}

func (s *MemoryStore) DeleteMCP(ctx context.Context, agentID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mcps[id]
	if !ok || m.AgentID != agentID {
		return fmt.Errorf("mcp: %w", ErrNotFound)
	}
	delete(s.mcps, id)
	return nil
}

// Save saves conversation history for a session.
func (s *MemoryStore) Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Make a copy to avoid external mutations
	copied := make([]llm.ChatMessage, len(history))
	copy(copied, history)
	s.sessions[sessionID] = copied
	return nil
}

// Load loads conversation history for a session.
// Returns empty slice if session doesn't exist.
func (s *MemoryStore) Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.sessions[sessionID]
	if !ok {
		return []llm.ChatMessage{}, nil
	}
	copied := make([]llm.ChatMessage, len(history))
	copy(copied, history)
	return copied, nil
}

// Delete deletes conversation history for a session.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// ListSessions lists all session IDs in sorted order.
func (s *MemoryStore) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.sessions))
	for sessionID := range s.sessions {
		sessions = append(sessions, sessionID)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Exists checks if a session exists.
func (s *MemoryStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[sessionID]
	return ok, nil
}

var _ Store = (*MemoryStore)(nil)
