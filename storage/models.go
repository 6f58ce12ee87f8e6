package storage

import (
	"context"
	"errors"
	"time"

	"github.com/richinex/agentdock/tools"
)

// ErrNotFound is returned when a row does not exist or belongs to another owner.
var ErrNotFound = errors.New("not found")

// Agent is a user's configured assistant.
type Agent struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Instructions string    `json:"instructions"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Document is an uploaded file whose text has been chunked and embedded.
type Document struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chunk is one embedded slice of a document. AgentID is filled on read.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	AgentID    string    `json:"agent_id,omitempty"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
}

// OpenAPIIntegration is a REST API exposed to an agent as GET tools.
type OpenAPIIntegration struct {
	ID        string             `json:"id"`
	AgentID   string             `json:"agent_id"`
	Name      string             `json:"name"`
	SchemaURL string             `json:"schema_url"`
	APIURL    string             `json:"api_url"`
	Tools     []tools.Descriptor `json:"tools"`
	CreatedAt time.Time          `json:"created_at"`
}

// MCPIntegration is an external MCP tool server.
type MCPIntegration struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	Transport string    `json:"transport"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentStore persists agents. Lookups are scoped to the owning user.
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, userID, id string) (Agent, error)
	ListAgents(ctx context.Context, userID string) ([]Agent, error)
	UpdateAgent(ctx context.Context, agent *Agent) error
	// DeleteAgent removes the agent with its documents, chunks and integrations.
	DeleteAgent(ctx context.Context, userID, id string) error
}

// DocumentStore persists documents and their chunks.
type DocumentStore interface {
	// CreateDocument writes the document and all of its chunks atomically.
	CreateDocument(ctx context.Context, doc *Document, chunks []Chunk) error
	GetDocument(ctx context.Context, agentID, id string) (Document, error)
	ListDocuments(ctx context.Context, agentID string) ([]Document, error)
	DeleteDocument(ctx context.Context, agentID, id string) error
	// ListChunks returns every chunk of every document owned by the agent,
	// ordered by document then index.
	ListChunks(ctx context.Context, agentID string) ([]Chunk, error)
	CountChunks(ctx context.Context, agentID string) (int, error)
}

// IntegrationStore persists OpenAPI and MCP integrations.
type IntegrationStore interface {
	CreateOpenAPI(ctx context.Context, api *OpenAPIIntegration) error
	GetOpenAPI(ctx context.Context, agentID, id string) (OpenAPIIntegration, error)
	ListOpenAPIs(ctx context.Context, agentID string) ([]OpenAPIIntegration, error)
	UpdateOpenAPI(ctx context.Context, api *OpenAPIIntegration) error
	DeleteOpenAPI(ctx context.Context, agentID, id string) error

	CreateMCP(ctx context.Context, server *MCPIntegration) error
	GetMCP(ctx context.Context, agentID, id string) (MCPIntegration, error)
	ListMCPs(ctx context.Context, agentID string) ([]MCPIntegration, error)
	UpdateMCP(ctx context.Context, server *MCPIntegration) error
	DeleteMCP(ctx context.Context, agentID, id string) error
}

// Store is the full persistence surface used by the server and CLI.
type Store interface {
	AgentStore
	DocumentStore
	IntegrationStore
	ConversationStorage
	Close() error
}
