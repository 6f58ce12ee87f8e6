package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/richinex/agentdock/llm"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore implements Store on SQLite or PostgreSQL.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open connects to the database named by driver and dsn and creates the
// schema if needed. For SQLite, dsn is a file path and parent directories
// are created.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, "sqlite", "":
		return OpenSqlite(dsn)
	case DriverPostgres, "postgresql":
		db, err := sql.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
		}
		return newSQLStore(db, DriverPostgres)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// OpenSqlite opens or creates a SQLite database at the given path.
func OpenSqlite(path string) (*SQLStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(DriverSQLite, path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return newSQLStore(db, DriverSQLite)
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SQLStore, error) {
	db, err := sql.Open(DriverSQLite, ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// every pooled connection would otherwise get its own empty database
	db.SetMaxOpenConns(1)
	return newSQLStore(db, DriverSQLite)
}

func newSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{db: db, driver: driver}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Driver reports the SQL driver in use.
func (s *SQLStore) Driver() string {
	return s.driver
}

func (s *SQLStore) createSchema() error {
	blob := "BLOB"
	if s.driver == DriverPostgres {
		blob = "BYTEA"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			instructions TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_user ON agents(user_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			content_type TEXT NOT NULL,
			size BIGINT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_agent ON documents(agent_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding ` + blob + ` NOT NULL,
			UNIQUE(document_id, chunk_index)
		)`,

		`CREATE TABLE IF NOT EXISTS openapis (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			schema_url TEXT NOT NULL,
			api_url TEXT NOT NULL,
			tools TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_openapis_agent ON openapis(agent_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS mcps (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			transport TEXT NOT NULL,
			url TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mcps_agent ON mcps(agent_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
			message_index INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT NOT NULL DEFAULT '',
			tool_call_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (session_id, message_index)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) exec(ctx context.Context, e execer, query string, args ...any) (sql.Result, error) {
	return e.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// affected maps a zero-row update or delete to ErrNotFound.
func affected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Agents

func (s *SQLStore) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	agent.CreatedAt = now()
	agent.UpdatedAt = agent.CreatedAt

	_, err := s.exec(ctx, s.db, `
		INSERT INTO agents (id, user_id, name, description, instructions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.UserID, agent.Name, agent.Description, agent.Instructions,
		agent.CreatedAt.UnixMilli(), agent.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

const agentColumns = `id, user_id, name, description, instructions, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (Agent, error) {
	var a Agent
	var created, updated int64
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Description, &a.Instructions, &created, &updated); err != nil {
		return Agent{}, err
	}
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

func (s *SQLStore) GetAgent(ctx context.Context, userID, id string) (Agent, error) {
	a, err := scanAgent(s.queryRow(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE id = ? AND user_id = ?", id, userID))
	if err != nil {
		return Agent{}, notFound(err, "agent")
	}
	return a, nil
}

func (s *SQLStore) ListAgents(ctx context.Context, userID string) ([]Agent, error) {
	rows, err := s.query(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE user_id = ? ORDER BY created_at, id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	agents := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

func (s *SQLStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	agent.UpdatedAt = now()
	res, err := s.exec(ctx, s.db, `
		UPDATE agents SET name = ?, description = ?, instructions = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		agent.Name, agent.Description, agent.Instructions, agent.UpdatedAt.UnixMilli(),
		agent.ID, agent.UserID)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	return affected(res, "agent")
}

// DeleteAgent removes children explicitly as well, so the result does not
// depend on the connection having foreign keys enabled.
func (s *SQLStore) DeleteAgent(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := s.exec(ctx, tx, "DELETE FROM agents WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if err := affected(res, "agent"); err != nil {
		return err
	}

	cleanup := []string{
		"DELETE FROM chunks WHERE document_id IN (SELECT id FROM documents WHERE agent_id = ?)",
		"DELETE FROM documents WHERE agent_id = ?",
		"DELETE FROM openapis WHERE agent_id = ?",
		"DELETE FROM mcps WHERE agent_id = ?",
	}
	for _, stmt := range cleanup {
		if _, err := s.exec(ctx, tx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete agent data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Documents

func (s *SQLStore) CreateDocument(ctx context.Context, doc *Document, chunks []Chunk) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.CreatedAt = now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = s.exec(ctx, tx, `
		INSERT INTO documents (id, agent_id, name, content_type, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.AgentID, doc.Name, doc.ContentType, doc.Size, doc.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		"INSERT INTO chunks (id, document_id, chunk_index, content, embedding) VALUES (?, ?, ?, ?, ?)"))
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.DocumentID = doc.ID
		c.AgentID = doc.AgentID
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Index, c.Text, EncodeEmbedding(c.Embedding)); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const documentColumns = `id, agent_id, name, content_type, size, created_at`

func scanDocument(row scanner) (Document, error) {
	var d Document
	var created int64
	if err := row.Scan(&d.ID, &d.AgentID, &d.Name, &d.ContentType, &d.Size, &created); err != nil {
		return Document{}, err
	}
	d.CreatedAt = fromMillis(created)
	return d, nil
}

func (s *SQLStore) GetDocument(ctx context.Context, agentID, id string) (Document, error) {
	d, err := scanDocument(s.queryRow(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ? AND agent_id = ?", id, agentID))
	if err != nil {
		return Document{}, notFound(err, "document")
	}
	return d, nil
}

func (s *SQLStore) ListDocuments(ctx context.Context, agentID string) ([]Document, error) {
	rows, err := s.query(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE agent_id = ? ORDER BY created_at, id", agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

func (s *SQLStore) DeleteDocument(ctx context.Context, agentID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := s.exec(ctx, tx, "DELETE FROM documents WHERE id = ? AND agent_id = ?", id, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if err := affected(res, "document"); err != nil {
		return err
	}
	if _, err := s.exec(ctx, tx, "DELETE FROM chunks WHERE document_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) ListChunks(ctx context.Context, agentID string) ([]Chunk, error) {
	rows, err := s.query(ctx, `
		SELECT c.id, c.document_id, d.agent_id, c.chunk_index, c.content, c.embedding
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.agent_id = ?
		ORDER BY d.created_at, c.document_id, c.chunk_index`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	chunks := []Chunk{}
	for rows.Next() {
		var c Chunk
		var raw []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.AgentID, &c.Index, &c.Text, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if c.Embedding, err = DecodeEmbedding(raw); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}
	return chunks, nil
}

func (s *SQLStore) CountChunks(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `
		SELECT COUNT(*)
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.agent_id = ?`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// OpenAPI integrations

func (s *SQLStore) CreateOpenAPI(ctx context.Context, api *OpenAPIIntegration) error {
	if api.ID == "" {
		api.ID = uuid.NewString()
	}
	api.CreatedAt = now()
	toolsJSON, err := json.Marshal(api.Tools)
	if err != nil {
		return fmt.Errorf("failed to encode tools: %w", err)
	}

	_, err = s.exec(ctx, s.db, `
		INSERT INTO openapis (id, agent_id, name, schema_url, api_url, tools, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		api.ID, api.AgentID, api.Name, api.SchemaURL, api.APIURL, string(toolsJSON), api.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create openapi integration: %w", err)
	}
	return nil
}

const openAPIColumns = `id, agent_id, name, schema_url, api_url, tools, created_at`

func scanOpenAPI(row scanner) (OpenAPIIntegration, error) {
	var api OpenAPIIntegration
	var toolsJSON string
	var created int64
	if err := row.Scan(&api.ID, &api.AgentID, &api.Name, &api.SchemaURL, &api.APIURL, &toolsJSON, &created); err != nil {
		return OpenAPIIntegration{}, err
	}
	if err := json.Unmarshal([]byte(toolsJSON), &api.Tools); err != nil {
		return OpenAPIIntegration{}, fmt.Errorf("invalid tools for openapi %s: %w", api.ID, err)
	}
	api.CreatedAt = fromMillis(created)
	return api, nil
}

func (s *SQLStore) GetOpenAPI(ctx context.Context, agentID, id string) (OpenAPIIntegration, error) {
	api, err := scanOpenAPI(s.queryRow(ctx,
		"SELECT "+openAPIColumns+" FROM openapis WHERE id = ? AND agent_id = ?", id, agentID))
	if err != nil {
		return OpenAPIIntegration{}, notFound(err, "openapi")
	}
	return api, nil
}

func (s *SQLStore) ListOpenAPIs(ctx context.Context, agentID string) ([]OpenAPIIntegration, error) {
	rows, err := s.query(ctx,
		"SELECT "+openAPIColumns+" FROM openapis WHERE agent_id = ? ORDER BY created_at, id", agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query openapis: %w", err)
	}
	defer rows.Close()

	apis := []OpenAPIIntegration{}
	for rows.Next() {
		api, err := scanOpenAPI(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan openapi: %w", err)
		}
		apis = append(apis, api)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating openapis: %w", err)
	}
	return apis, nil
}

func (s *SQLStore) UpdateOpenAPI(ctx context.Context, api *OpenAPIIntegration) error {
	toolsJSON, err := json.Marshal(api.Tools)
	if err != nil {
		return fmt.Errorf("failed to encode tools: %w", err)
	}
	res, err := s.exec(ctx, s.db, `
		UPDATE openapis SET name = ?, schema_url = ?, api_url = ?, tools = ?
		WHERE id = ? AND agent_id = ?`,
		api.Name, api.SchemaURL, api.APIURL, string(toolsJSON), api.ID, api.AgentID)
	if err != nil {
		return fmt.Errorf("failed to update openapi integration: %w", err)
	}
	return affected(res, "openapi")
}

func (s *SQLStore) DeleteOpenAPI(ctx context.Context, agentID, id string) error {
	res, err := s.exec(ctx, s.db, "DELETE FROM openapis WHERE id = ? AND agent_id = ?", id, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete openapi integration: %w", err)
	}
	return affected(res, "openapi")
}

// MCP integrations

func (s *SQLStore) CreateMCP(ctx context.Context, server *MCPIntegration) error {
	if server.ID == "" {
		server.ID = uuid.NewString()
	}
	server.CreatedAt = now()

	_, err := s.exec(ctx, s.db, `
		INSERT INTO mcps (id, agent_id, name, transport, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		server.ID, server.AgentID, server.Name, server.Transport, server.URL, server.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create mcp integration: %w", err)
	}
	return nil
}

const mcpColumns = `id, agent_id, name, transport, url, created_at`

func scanMCP(row scanner) (MCPIntegration, error) {
	var m MCPIntegration
	var created int64
	if err := row.Scan(&m.ID, &m.AgentID, &m.Name, &m.Transport, &m.URL, &created); err != nil {
		return MCPIntegration{}, err
	}
	m.CreatedAt = fromMillis(created)
	return m, nil
}

func (s *SQLStore) GetMCP(ctx context.Context, agentID, id string) (MCPIntegration, error) {
	m, err := scanMCP(s.queryRow(ctx,
		"SELECT "+mcpColumns+" FROM mcps WHERE id = ? AND agent_id = ?", id, agentID))
	if err != nil {
		return MCPIntegration{}, notFound(err, "mcp")
	}
	return m, nil
}

func (s *SQLStore) ListMCPs(ctx context.Context, agentID string) ([]MCPIntegration, error) {
	rows, err := s.query(ctx,
		"SELECT "+mcpColumns+" FROM mcps WHERE agent_id = ? ORDER BY created_at, id", agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mcps: %w", err)
	}
	defer rows.Close()

	servers := []MCPIntegration{}
	for rows.Next() {
		m, err := scanMCP(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mcp: %w", err)
		}
		servers = append(servers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mcps: %w", err)
	}
	return servers, nil
}

func (s *SQLStore) UpdateMCP(ctx context.Context, server *MCPIntegration) error {
	res, err := s.exec(ctx, s.db, `
		UPDATE mcps SET name = ?, transport = ?, url = ?
		WHERE id = ? AND agent_id = ?`,
		server.Name, server.Transport, server.URL, server.ID, server.AgentID)
	if err != nil {
		return fmt.Errorf("failed to update mcp integration: %w", err)
	}
	return affected(res, "mcp")
}

func (s *SQLStore) DeleteMCP(ctx context.Context, agentID, id string) error {
	res, err := s.exec(ctx, s.db, "DELETE FROM mcps WHERE id = ? AND agent_id = ?", id, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete mcp integration: %w", err)
	}
	return affected(res, "mcp")
}

// ConversationStorage implementation

// Save saves conversation history for a session.
func (s *SQLStore) Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	ts := now().UnixMilli()
	_, err = s.exec(ctx, tx, `
		INSERT INTO sessions (session_id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}

	if _, err = s.exec(ctx, tx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear old messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO messages (session_id, message_index, role, content, tool_calls, tool_call_id, name)
		VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for i, msg := range history {
		calls := ""
		if len(msg.ToolCalls) > 0 {
			data, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("failed to encode tool calls: %w", err)
			}
			calls = string(data)
		}
		if _, err = stmt.ExecContext(ctx, sessionID, i, msg.Role, msg.Content, calls, msg.ToolCallID, msg.Name); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load loads conversation history for a session.
// Returns empty slice if session doesn't exist.
func (s *SQLStore) Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error) {
	rows, err := s.query(ctx, `
		SELECT role, content, tool_calls, tool_call_id, name FROM messages
		WHERE session_id = ? ORDER BY message_index ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []llm.ChatMessage{}
	for rows.Next() {
		var msg llm.ChatMessage
		var calls string
		if err := rows.Scan(&msg.Role, &msg.Content, &calls, &msg.ToolCallID, &msg.Name); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if calls != "" {
			if err := json.Unmarshal([]byte(calls), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("invalid tool calls in session %s: %w", sessionID, err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// Delete deletes conversation history for a session.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.exec(ctx, tx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := s.exec(ctx, tx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSessions lists all session IDs, most recently updated first.
func (s *SQLStore) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, "SELECT session_id FROM sessions ORDER BY updated_at DESC, session_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sessionID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// Exists checks if a session exists.
func (s *SQLStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	var count int
	err := s.queryRow(ctx, "SELECT COUNT(*) FROM sessions WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return count > 0, nil
}

var _ Store = (*SQLStore)(nil)
