package services

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
	"github.com/custodia-labs/carchive/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyStorageDriver      = "storage.driver"
	keyStorageDataDir     = "storage.data_dir"
	keyStoragePostgresDSN = "storage.postgres_dsn"
	keyBufferBackend      = "buffer.backend"
	keyBufferDefaultTTL   = "buffer.default_ttl"
	keyEmbedProvider      = "embedding.provider"
	keyEmbedModel         = "embedding.model"
	keyEmbedBaseURL       = "embedding.base_url"
	keyEmbedAPIKey        = "embedding.api_key"
	keyEmbedTimeout       = "embedding.timeout"
	keyEmbedRate          = "embedding.rate_per_second"
	keyEmbedBreaker       = "embedding.breaker_failures"
	keySearchDefaultLimit = "search.default_limit"
	keySearchMaxLimit     = "search.max_limit"
	keySearchMultiplier   = "search.candidate_multiplier"
	keySearchLexWeight    = "search.lexical_weight"
	keySearchVecWeight    = "search.vector_weight"
	keySearchThreshold    = "search.vector_threshold"
)

// Environment variables that override stored settings.
//
//nolint:gosec // G101: These are variable names, not actual credentials.
const (
	EnvEmbeddingAPIKey = "CARCHIVE_EMBEDDING_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvPostgresDSN     = "CARCHIVE_POSTGRES_DSN"
)

// settingKind is how a config key's textual value is parsed by Set.
type settingKind int

const (
	kindString settingKind = iota
	kindInt
	kindFloat
	kindDuration
)

var settingKinds = map[string]settingKind{
	keyStorageDriver:      kindString,
	keyStorageDataDir:     kindString,
	keyStoragePostgresDSN: kindString,
	keyBufferBackend:      kindString,
	keyBufferDefaultTTL:   kindDuration,
	keyEmbedProvider:      kindString,
	keyEmbedModel:         kindString,
	keyEmbedBaseURL:       kindString,
	keyEmbedAPIKey:        kindString,
	keyEmbedTimeout:       kindDuration,
	keyEmbedRate:          kindFloat,
	keyEmbedBreaker:       kindInt,
	keySearchDefaultLimit: kindInt,
	keySearchMaxLimit:     kindInt,
	keySearchMultiplier:   kindInt,
	keySearchLexWeight:    kindFloat,
	keySearchVecWeight:    kindFloat,
	keySearchThreshold:    kindFloat,
}

// SettingKeys returns every settable config key, sorted.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingKinds))
	for k := range settingKinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
	aiValidator driven.AIConfigValidator
	lookupEnv   func(string) (string, bool)
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore, aiValidator driven.AIConfigValidator) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		aiValidator: aiValidator,
		lookupEnv:   os.LookupEnv,
	}
}

// Get retrieves current application settings.
// Stored values fall back to defaults when absent or invalid, and
// environment variables override secrets and the postgres DSN.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	defaults := domain.DefaultAppSettings()

	settings := &domain.AppSettings{
		Storage: domain.StorageSettings{
			Driver:      s.getStorageDriver(defaults.Storage.Driver),
			DataDir:     s.configStore.GetString(keyStorageDataDir),
			PostgresDSN: s.getEnvOr(s.configStore.GetString(keyStoragePostgresDSN), EnvPostgresDSN),
		},
		Buffer: domain.BufferSettings{
			Backend:    s.getBufferBackend(defaults.Buffer.Backend),
			DefaultTTL: s.getDuration(keyBufferDefaultTTL, defaults.Buffer.DefaultTTL),
		},
		Embedding: domain.EmbeddingSettings{
			Provider:        s.getProvider(keyEmbedProvider, defaults.Embedding.Provider),
			Model:           s.getString(keyEmbedModel, defaults.Embedding.Model),
			BaseURL:         s.configStore.GetString(keyEmbedBaseURL), // No default - empty is valid for cloud providers
			APIKey:          s.getEnvOr(s.configStore.GetString(keyEmbedAPIKey), EnvEmbeddingAPIKey, EnvOpenAIAPIKey),
			Timeout:         s.getDuration(keyEmbedTimeout, defaults.Embedding.Timeout),
			RatePerSecond:   s.getFloat(keyEmbedRate, defaults.Embedding.RatePerSecond),
			BreakerFailures: s.getInt(keyEmbedBreaker, defaults.Embedding.BreakerFailures),
		},
		Search: domain.SearchSettings{
			DefaultLimit:        s.getInt(keySearchDefaultLimit, defaults.Search.DefaultLimit),
			MaxLimit:            s.getInt(keySearchMaxLimit, defaults.Search.MaxLimit),
			CandidateMultiplier: s.getInt(keySearchMultiplier, defaults.Search.CandidateMultiplier),
			LexicalWeight:       s.getFloat(keySearchLexWeight, defaults.Search.LexicalWeight),
			VectorWeight:        s.getFloat(keySearchVecWeight, defaults.Search.VectorWeight),
			VectorThreshold:     s.getFloat(keySearchThreshold, defaults.Search.VectorThreshold),
		},
	}

	if settings.Embedding.Provider.IsValid() && settings.Embedding.Model == "" {
		settings.Embedding.Model = domain.DefaultEmbeddingModels()[settings.Embedding.Provider]
	}

	return settings, nil
}

// Save persists application settings. Secrets supplied by the environment
// are not written back.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	values := []struct {
		key   string
		value any
	}{
		{keyStorageDriver, settings.Storage.Driver.String()},
		{keyStorageDataDir, settings.Storage.DataDir},
		{keyBufferBackend, settings.Buffer.Backend.String()},
		{keyBufferDefaultTTL, settings.Buffer.DefaultTTL.String()},
		{keyEmbedProvider, settings.Embedding.Provider.String()},
		{keyEmbedModel, settings.Embedding.Model},
		{keyEmbedBaseURL, settings.Embedding.BaseURL},
		{keyEmbedTimeout, settings.Embedding.Timeout.String()},
		{keyEmbedRate, settings.Embedding.RatePerSecond},
		{keyEmbedBreaker, settings.Embedding.BreakerFailures},
		{keySearchDefaultLimit, settings.Search.DefaultLimit},
		{keySearchMaxLimit, settings.Search.MaxLimit},
		{keySearchMultiplier, settings.Search.CandidateMultiplier},
		{keySearchLexWeight, settings.Search.LexicalWeight},
		{keySearchVecWeight, settings.Search.VectorWeight},
		{keySearchThreshold, settings.Search.VectorThreshold},
	}
	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}

	if settings.Storage.PostgresDSN != "" && !s.envSet(EnvPostgresDSN) {
		if err := s.configStore.Set(keyStoragePostgresDSN, settings.Storage.PostgresDSN); err != nil {
			return fmt.Errorf("save %s: %w", keyStoragePostgresDSN, err)
		}
	}
	if settings.Embedding.APIKey != "" && !s.envSet(EnvEmbeddingAPIKey) && !s.envSet(EnvOpenAIAPIKey) {
		if err := s.configStore.Set(keyEmbedAPIKey, settings.Embedding.APIKey); err != nil {
			return fmt.Errorf("save %s: %w", keyEmbedAPIKey, err)
		}
	}

	return nil
}

// Set parses value according to the key's type and stores it.
func (s *SettingsService) Set(key, value string) error {
	kind, ok := settingKinds[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}

	var parsed any
	switch kind {
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, key)
		}
		parsed = n
	case kindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s must be a number", domain.ErrInvalidInput, key)
		}
		parsed = f
	case kindDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%w: %s must be a duration such as 90s or 24h", domain.ErrInvalidInput, key)
		}
		parsed = value
	default:
		parsed = value
	}

	if err := s.configStore.Set(key, parsed); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// SetEmbeddingProvider configures the embedding provider.
func (s *SettingsService) SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error {
	if !provider.IsValid() {
		return fmt.Errorf("invalid embedding provider: %s", provider)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}

	// Validate API key if required
	if apiKey == "" {
		apiKey = settings.Embedding.APIKey
	}
	if provider.RequiresAPIKey() && apiKey == "" {
		return fmt.Errorf("API key required for %s", provider)
	}

	settings.Embedding.Provider = provider

	// Set model - use provided or default
	if model != "" {
		settings.Embedding.Model = model
	} else {
		settings.Embedding.Model = domain.DefaultEmbeddingModels()[provider]
	}

	// Set base URL based on provider type
	if provider.IsLocal() {
		if settings.Embedding.BaseURL == "" {
			settings.Embedding.BaseURL = "http://localhost:11434"
		}
	} else {
		settings.Embedding.BaseURL = ""
	}

	settings.Embedding.APIKey = apiKey

	return s.Save(settings)
}

// Validate checks that current settings are usable.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}

	if !settings.Storage.Driver.IsValid() {
		return fmt.Errorf("invalid storage driver: %s", settings.Storage.Driver)
	}
	if settings.Storage.Driver == domain.StoragePostgres && settings.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage driver postgres requires %s or %s", keyStoragePostgresDSN, EnvPostgresDSN)
	}
	if !settings.Buffer.Backend.IsValid() {
		return fmt.Errorf("invalid buffer backend: %s", settings.Buffer.Backend)
	}
	if settings.Buffer.DefaultTTL < 0 {
		return fmt.Errorf("%s must not be negative", keyBufferDefaultTTL)
	}
	if settings.Embedding.Provider != "" && !settings.Embedding.IsConfigured() {
		return fmt.Errorf("embedding provider %q is not fully configured", settings.Embedding.Provider)
	}
	return settings.Search.Validate()
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// ValidateEmbeddingConfig validates the current embedding configuration by pinging the provider.
func (s *SettingsService) ValidateEmbeddingConfig() error {
	if s.aiValidator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.aiValidator.ValidateEmbedding(&settings.Embedding)
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetFloat(key)
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetDuration(key)
}

func (s *SettingsService) getStorageDriver(defaultVal domain.StorageDriver) domain.StorageDriver {
	d := domain.StorageDriver(s.configStore.GetString(keyStorageDriver))
	if !d.IsValid() {
		return defaultVal
	}
	return d
}

func (s *SettingsService) getBufferBackend(defaultVal domain.BufferBackend) domain.BufferBackend {
	b := domain.BufferBackend(s.configStore.GetString(keyBufferBackend))
	if !b.IsValid() {
		return defaultVal
	}
	return b
}

func (s *SettingsService) getProvider(key string, defaultVal domain.AIProvider) domain.AIProvider {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	provider := domain.AIProvider(val)
	if !provider.IsValid() {
		return defaultVal
	}
	return provider
}

// getEnvOr returns the first non-empty environment variable of names, or val.
func (s *SettingsService) getEnvOr(val string, names ...string) string {
	for _, name := range names {
		if v, ok := s.lookupEnv(name); ok && v != "" {
			return v
		}
	}
	return val
}

func (s *SettingsService) envSet(name string) bool {
	v, ok := s.lookupEnv(name)
	return ok && v != ""
}
