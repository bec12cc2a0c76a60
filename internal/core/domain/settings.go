package domain

import (
	"fmt"
	"math"
	"time"
)

const unknownDescription = "Unknown"

// StorageDriver selects the entity store backend.
type StorageDriver string

// Available storage drivers.
const (
	// StorageSQLite is the embedded single-file store.
	StorageSQLite StorageDriver = "sqlite"

	// StoragePostgres is a PostgreSQL database with the pgvector extension.
	StoragePostgres StorageDriver = "postgres"
)

// IsValid returns true if the storage driver is recognised.
func (d StorageDriver) IsValid() bool {
	return d == StorageSQLite || d == StoragePostgres
}

// String returns the string representation.
func (d StorageDriver) String() string {
	return string(d)
}

// BufferBackend selects where result buffers are persisted.
type BufferBackend string

// Available buffer backends.
const (
	// BufferBackendSQLite stores buffers in the sqlite data file.
	BufferBackendSQLite BufferBackend = "sqlite"

	// BufferBackendBadger stores buffers in a badger key-value directory.
	BufferBackendBadger BufferBackend = "badger"
)

// IsValid returns true if the buffer backend is recognised.
func (b BufferBackend) IsValid() bool {
	return b == BufferBackendSQLite || b == BufferBackendBadger
}

// String returns the string representation.
func (b BufferBackend) String() string {
	return string(b)
}

// AIProvider identifies an embedding service provider.
type AIProvider string

// Available AI providers.
const (
	// AIProviderOllama is local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is OpenAI cloud API.
	AIProviderOpenAI AIProvider = "openai"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI
}

// IsLocal returns true if this provider runs locally.
func (p AIProvider) IsLocal() bool {
	return p == AIProviderOllama
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	default:
		return unknownDescription
	}
}

// StorageSettings holds entity store configuration.
type StorageSettings struct {
	// Driver is the entity store backend.
	Driver StorageDriver

	// DataDir holds the sqlite file and the badger directory.
	// Empty means ~/.carchive/data.
	DataDir string

	// PostgresDSN is the connection string used by the postgres driver.
	PostgresDSN string
}

// BufferSettings holds result buffer configuration.
type BufferSettings struct {
	// Backend is the buffer store backend.
	Backend BufferBackend

	// DefaultTTL applies when a save does not name a TTL. Zero means buffers never expire.
	DefaultTTL time.Duration
}

// EmbeddingSettings holds embedding provider configuration.
type EmbeddingSettings struct {
	// Provider is the embedding service provider. Empty disables source-text vector queries.
	Provider AIProvider

	// Model is the embedding model name.
	Model string

	// BaseURL is the API endpoint (for Ollama).
	BaseURL string

	// APIKey is the API key (for OpenAI).
	APIKey string

	// Timeout bounds the single embedding call made per search.
	Timeout time.Duration

	// RatePerSecond limits calls to the provider. Zero disables limiting.
	RatePerSecond float64

	// BreakerFailures is the number of consecutive failures that opens the circuit breaker.
	BreakerFailures int
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// SearchSettings holds ranking and pagination configuration.
type SearchSettings struct {
	// DefaultLimit applies when criteria carry limit 0.
	DefaultLimit int

	// MaxLimit clamps the requested limit.
	MaxLimit int

	// CandidateMultiplier times MaxLimit caps the candidates fetched per entity type.
	CandidateMultiplier int

	// LexicalWeight and VectorWeight blend the two scores when both are present.
	LexicalWeight float64
	VectorWeight  float64

	// VectorThreshold is the default maximum cosine distance for a vector match.
	VectorThreshold float64
}

// CriteriaDefaults returns the defaults applied when resolving criteria.
func (s SearchSettings) CriteriaDefaults() CriteriaDefaults {
	return CriteriaDefaults{
		DefaultLimit:    s.DefaultLimit,
		MaxLimit:        s.MaxLimit,
		VectorThreshold: s.VectorThreshold,
	}
}

// CandidateCap returns the per-type candidate cap.
func (s SearchSettings) CandidateCap() int {
	return s.CandidateMultiplier * s.MaxLimit
}

// Validate checks the search settings are usable.
func (s SearchSettings) Validate() error {
	if s.DefaultLimit <= 0 || s.MaxLimit <= 0 {
		return fmt.Errorf("%w: search limits must be positive", ErrInvalidInput)
	}
	if s.DefaultLimit > s.MaxLimit {
		return fmt.Errorf("%w: search.default_limit exceeds search.max_limit", ErrInvalidInput)
	}
	if s.CandidateMultiplier <= 0 {
		return fmt.Errorf("%w: search.candidate_multiplier must be positive", ErrInvalidInput)
	}
	if s.LexicalWeight < 0 || s.VectorWeight < 0 || s.LexicalWeight+s.VectorWeight == 0 {
		return fmt.Errorf("%w: search weights must be non-negative and not both zero", ErrInvalidInput)
	}
	if math.IsNaN(s.VectorThreshold) || s.VectorThreshold < 0 || s.VectorThreshold > 1 {
		return fmt.Errorf("%w: search.vector_threshold must be within [0,1]", ErrInvalidInput)
	}
	return nil
}

// AppSettings holds all application settings.
type AppSettings struct {
	// Storage holds entity store settings.
	Storage StorageSettings

	// Buffer holds result buffer settings.
	Buffer BufferSettings

	// Embedding holds embedding provider settings.
	Embedding EmbeddingSettings

	// Search holds ranking and pagination settings.
	Search SearchSettings
}

// DefaultAppSettings returns settings with sensible defaults.
// The embedding provider is left unconfigured; vector queries carrying a
// raw vector still work without one.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Storage: StorageSettings{
			Driver: StorageSQLite,
		},
		Buffer: BufferSettings{
			Backend:    BufferBackendSQLite,
			DefaultTTL: 0,
		},
		Embedding: EmbeddingSettings{
			Timeout:         10 * time.Second,
			RatePerSecond:   10,
			BreakerFailures: 5,
		},
		Search: SearchSettings{
			DefaultLimit:        50,
			MaxLimit:            200,
			CandidateMultiplier: 5,
			LexicalWeight:       0.5,
			VectorWeight:        0.5,
			VectorThreshold:     0.3,
		},
	}
}

// AllEmbeddingProviders returns providers that support embeddings.
func AllEmbeddingProviders() []AIProvider {
	return []AIProvider{
		AIProviderOllama,
		AIProviderOpenAI,
	}
}

// DefaultEmbeddingModels returns default models for each embedding provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama: "nomic-embed-text",
		AIProviderOpenAI: "text-embedding-3-small",
	}
}

// EmbeddingDimensions returns the vector dimensions for known models.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		// Ollama models
		"nomic-embed-text":  768,
		"mxbai-embed-large": 1024,
		"all-minilm":        384,
		// OpenAI models
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
	}
}
