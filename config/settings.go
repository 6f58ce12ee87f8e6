// Package config provides application settings loaded from environment variables.
//
// Settings are created via Load() or New() which handle:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds all application configuration.
type Settings struct {
	LLM       LLMConfig
	Agent     AgentConfig
	Retrieval RetrievalConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Log       LogConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
	BaseURL     string
}

// AgentConfig holds orchestration loop configuration.
type AgentConfig struct {
	// MaxIterations caps model calls per run. Zero means no cap.
	MaxIterations int
	// ToolTimeout bounds one tool invocation. Zero disables it.
	ToolTimeout time.Duration
	// ToolConcurrency limits parallel calls per batch. Zero means the batch size.
	ToolConcurrency int
	// StreamBuffer is the capacity of the event channel.
	StreamBuffer int
}

// RetrievalConfig holds ingestion and search configuration.
type RetrievalConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	ChunkLength    string // "runes" or "tokens"
	TopK           int
	VectorIndex    string // "scan" or "chromem"
	EmbedProvider  string // "openai" or "gemini"
	EmbedModel     string
	EmbedBaseURL   string
	RedisURL       string
	EmbedCacheTTL  time.Duration
	MaxUploadBytes int64
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr           string
	JWTSecret      string
	RequestTimeout time.Duration
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string // "sqlite3" or "postgres"
	URL    string
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string
	Format string
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY"},
}

// Embedding providers and their default models.
var embedModels = map[string]string{
	"openai": "text-embedding-3-small",
	"gemini": "text-embedding-004",
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// Load reads every setting from the environment. The chat provider comes
// from LLM_PROVIDER and defaults to openai.
func Load() (Settings, error) {
	return New(getEnv("LLM_PROVIDER", "openai"))
}

// New creates settings for the specified provider, loading values from environment variables.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	maxTokens, err := getEnvUint32("LLM_MAX_TOKENS", 4096)
	if err != nil {
		return Settings{}, err
	}

	temperature, err := getEnvFloat64("LLM_TEMPERATURE", 0.7)
	if err != nil {
		return Settings{}, err
	}

	agent, err := loadAgent()
	if err != nil {
		return Settings{}, err
	}

	retrieval, err := loadRetrieval()
	if err != nil {
		return Settings{}, err
	}

	server, err := loadServer()
	if err != nil {
		return Settings{}, err
	}

	database, err := loadDatabase()
	if err != nil {
		return Settings{}, err
	}

	// Get model from environment or use default
	model := os.Getenv(info.modelEnv)
	if model == "" {
		model = info.defaultModel
	}

	return Settings{
		LLM: LLMConfig{
			Provider:    provider,
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			BaseURL:     os.Getenv("LLM_BASE_URL"),
		},
		Agent:     agent,
		Retrieval: retrieval,
		Server:    server,
		Database:  database,
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}, nil
}

func loadAgent() (AgentConfig, error) {
	maxIterations, err := getEnvInt("AGENT_MAX_ITERATIONS", 0)
	if err != nil {
		return AgentConfig{}, err
	}
	if maxIterations < 0 {
		return AgentConfig{}, fmt.Errorf("invalid value for AGENT_MAX_ITERATIONS: %d: must not be negative", maxIterations)
	}

	toolTimeout, err := getEnvDuration("TOOL_TIMEOUT", 60*time.Second)
	if err != nil {
		return AgentConfig{}, err
	}

	concurrency, err := getEnvInt("AGENT_TOOL_CONCURRENCY", 0)
	if err != nil {
		return AgentConfig{}, err
	}

	buffer, err := getEnvInt("STREAM_BUFFER", 64)
	if err != nil {
		return AgentConfig{}, err
	}
	if buffer < 1 {
		return AgentConfig{}, fmt.Errorf("invalid value for STREAM_BUFFER: %d: must be positive", buffer)
	}

	return AgentConfig{
		MaxIterations:   maxIterations,
		ToolTimeout:     toolTimeout,
		ToolConcurrency: concurrency,
		StreamBuffer:    buffer,
	}, nil
}

func loadRetrieval() (RetrievalConfig, error) {
	size, err := getEnvInt("CHUNK_SIZE", 1000)
	if err != nil {
		return RetrievalConfig{}, err
	}

	overlap, err := getEnvInt("CHUNK_OVERLAP", 200)
	if err != nil {
		return RetrievalConfig{}, err
	}
	if overlap >= size {
		return RetrievalConfig{}, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", overlap, size)
	}

	length, err := getEnvChoice("CHUNK_LENGTH", "runes", "runes", "tokens")
	if err != nil {
		return RetrievalConfig{}, err
	}

	topK, err := getEnvInt("RETRIEVAL_TOP_K", 1)
	if err != nil {
		return RetrievalConfig{}, err
	}

	index, err := getEnvChoice("VECTOR_INDEX", "scan", "scan", "chromem")
	if err != nil {
		return RetrievalConfig{}, err
	}

	embedProvider := normalizeProvider(getEnv("EMBEDDINGS_PROVIDER", "openai"))
	defaultModel, ok := embedModels[embedProvider]
	if !ok {
		return RetrievalConfig{}, fmt.Errorf("unknown embeddings provider: %q", embedProvider)
	}
	modelEnv := "OPENAI_EMBEDDINGS_MODEL"
	if embedProvider == "gemini" {
		modelEnv = "GEMINI_EMBEDDINGS_MODEL"
	}

	ttl, err := getEnvDuration("EMBEDDING_CACHE_TTL", 30*24*time.Hour)
	if err != nil {
		return RetrievalConfig{}, err
	}

	maxUpload, err := getEnvInt("MAX_UPLOAD_BYTES", 32<<20)
	if err != nil {
		return RetrievalConfig{}, err
	}

	return RetrievalConfig{
		ChunkSize:      size,
		ChunkOverlap:   overlap,
		ChunkLength:    length,
		TopK:           topK,
		VectorIndex:    index,
		EmbedProvider:  embedProvider,
		EmbedModel:     getEnv(modelEnv, defaultModel),
		EmbedBaseURL:   os.Getenv("EMBEDDINGS_BASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		EmbedCacheTTL:  ttl,
		MaxUploadBytes: int64(maxUpload),
	}, nil
}

func loadServer() (ServerConfig, error) {
	timeout, err := getEnvDuration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		Addr:           getEnv("SERVER_ADDR", ":8080"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		RequestTimeout: timeout,
	}, nil
}

func loadDatabase() (DatabaseConfig, error) {
	driver, err := getEnvChoice("DB_DRIVER", "sqlite3", "sqlite3", "postgres")
	if err != nil {
		return DatabaseConfig{}, err
	}
	url := os.Getenv("DATABASE_URL")
	if url == "" && driver == "sqlite3" {
		url = "agentdock.db"
	}
	return DatabaseConfig{Driver: driver, URL: url}, nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// Environment variable helpers with proper error handling

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvChoice(key, defaultVal string, choices ...string) (string, error) {
	val := strings.ToLower(getEnv(key, defaultVal))
	for _, c := range choices {
		if val == c {
			return val, nil
		}
	}
	return "", fmt.Errorf("invalid value for %s: %q: must be one of %v", key, val, choices)
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

// getEnvDuration accepts Go durations ("90s") or whole seconds ("90").
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
