package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carchive/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/carchive/internal/core/domain"
)

// newTestSettingsService returns a service over an in-memory store with the
// given environment.
func newTestSettingsService(env map[string]string) (*SettingsService, *memory.ConfigStore) {
	store := memory.NewConfigStore()
	service := NewSettingsService(store, nil)
	service.lookupEnv = func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
	return service, store
}

func TestNewSettingsService(t *testing.T) {
	service, _ := newTestSettingsService(nil)

	require.NotNil(t, service)
}

func TestSettingsService_Get_ReturnsDefaults(t *testing.T) {
	service, _ := newTestSettingsService(nil)

	settings, err := service.Get()

	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, domain.DefaultAppSettings(), *settings)
}

func TestSettingsService_Get_ReturnsStoredValues(t *testing.T) {
	service, store := newTestSettingsService(nil)
	_ = store.Set("storage.driver", "postgres")
	_ = store.Set("buffer.backend", "badger")
	_ = store.Set("buffer.default_ttl", "24h")
	_ = store.Set("embedding.provider", "openai")
	_ = store.Set("embedding.model", "text-embedding-3-large")
	_ = store.Set("search.max_limit", 500)
	_ = store.Set("search.vector_threshold", 0.25)

	settings, err := service.Get()

	require.NoError(t, err)
	assert.Equal(t, domain.StoragePostgres, settings.Storage.Driver)
	assert.Equal(t, domain.BufferBackendBadger, settings.Buffer.Backend)
	assert.Equal(t, 24*time.Hour, settings.Buffer.DefaultTTL)
	assert.Equal(t, domain.AIProviderOpenAI, settings.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-large", settings.Embedding.Model)
	assert.Equal(t, 500, settings.Search.MaxLimit)
	assert.InDelta(t, 0.25, settings.Search.VectorThreshold, 1e-9)
}

func TestSettingsService_Get_InvalidValuesReturnDefaults(t *testing.T) {
	service, store := newTestSettingsService(nil)
	_ = store.Set("storage.driver", "mysql")
	_ = store.Set("buffer.backend", "redis")
	_ = store.Set("embedding.provider", "invalid_provider")

	settings, err := service.Get()

	require.NoError(t, err)
	defaults := domain.DefaultAppSettings()
	assert.Equal(t, defaults.Storage.Driver, settings.Storage.Driver)
	assert.Equal(t, defaults.Buffer.Backend, settings.Buffer.Backend)
	assert.Equal(t, defaults.Embedding.Provider, settings.Embedding.Provider)
}

func TestSettingsService_Get_ZeroFloatIsKept(t *testing.T) {
	service, store := newTestSettingsService(nil)
	_ = store.Set("search.vector_threshold", 0.0)

	settings, err := service.Get()

	require.NoError(t, err)
	assert.Zero(t, settings.Search.VectorThreshold)
}

func TestSettingsService_Get_DefaultModelForProvider(t *testing.T) {
	service, store := newTestSettingsService(nil)
	_ = store.Set("embedding.provider", "ollama")

	settings, err := service.Get()

	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", settings.Embedding.Model)
}

func TestSettingsService_Get_EnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		expected string
	}{
		{"stored value", nil, "sk-stored"},
		{"openai key", map[string]string{EnvOpenAIAPIKey: "sk-openai"}, "sk-openai"},
		{"carchive key wins", map[string]string{EnvOpenAIAPIKey: "sk-openai", EnvEmbeddingAPIKey: "sk-carchive"}, "sk-carchive"},
		{"empty env ignored", map[string]string{EnvEmbeddingAPIKey: ""}, "sk-stored"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, store := newTestSettingsService(tt.env)
			_ = store.Set("embedding.api_key", "sk-stored")

			settings, err := service.Get()

			require.NoError(t, err)
			assert.Equal(t, tt.expected, settings.Embedding.APIKey)
		})
	}
}

func TestSettingsService_Get_PostgresDSNFromEnvironment(t *testing.T) {
	service, store := newTestSettingsService(map[string]string{EnvPostgresDSN: "postgres://env/db"})
	_ = store.Set("storage.postgres_dsn", "postgres://file/db")

	settings, err := service.Get()

	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", settings.Storage.PostgresDSN)
}

func TestSettingsService_Save(t *testing.T) {
	service, _ := newTestSettingsService(nil)
	settings := domain.DefaultAppSettings()
	settings.Storage.DataDir = "/tmp/carchive"
	settings.Buffer.DefaultTTL = 2 * time.Hour
	settings.Embedding.Provider = domain.AIProviderOpenAI
	settings.Embedding.Model = "text-embedding-3-small"
	settings.Embedding.APIKey = "sk-test-key"
	settings.Search.DefaultLimit = 20

	require.NoError(t, service.Save(&settings))

	retrieved, err := service.Get()
	require.NoError(t, err)
	assert.Equal(t, settings, *retrieved)
}

func TestSettingsService_Save_DoesNotPersistEnvironmentSecrets(t *testing.T) {
	service, store := newTestSettingsService(map[string]string{
		EnvEmbeddingAPIKey: "sk-env",
		EnvPostgresDSN:     "postgres://env/db",
	})

	settings, err := service.Get()
	require.NoError(t, err)
	require.NoError(t, service.Save(settings))

	_, hasKey := store.Get("embedding.api_key")
	_, hasDSN := store.Get("storage.postgres_dsn")
	assert.False(t, hasKey)
	assert.False(t, hasDSN)
}

func TestSettingsService_Set(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(t *testing.T, s *domain.AppSettings)
	}{
		{"string", "embedding.model", "mxbai-embed-large", func(t *testing.T, s *domain.AppSettings) {
			assert.Equal(t, "mxbai-embed-large", s.Embedding.Model)
		}},
		{"int", "search.default_limit", "25", func(t *testing.T, s *domain.AppSettings) {
			assert.Equal(t, 25, s.Search.DefaultLimit)
		}},
		{"float", "search.lexical_weight", "0.7", func(t *testing.T, s *domain.AppSettings) {
			assert.InDelta(t, 0.7, s.Search.LexicalWeight, 1e-9)
		}},
		{"duration", "buffer.default_ttl", "90m", func(t *testing.T, s *domain.AppSettings) {
			assert.Equal(t, 90*time.Minute, s.Buffer.DefaultTTL)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _ := newTestSettingsService(nil)

			require.NoError(t, service.Set(tt.key, tt.value))

			settings, err := service.Get()
			require.NoError(t, err)
			tt.check(t, settings)
		})
	}
}

func TestSettingsService_Set_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "search.mode", "hybrid"},
		{"bad int", "search.max_limit", "many"},
		{"bad float", "search.vector_weight", "heavy"},
		{"bad duration", "embedding.timeout", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _ := newTestSettingsService(nil)

			err := service.Set(tt.key, tt.value)

			assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		})
	}
}

func TestSettingKeys_Sorted(t *testing.T) {
	keys := SettingKeys()

	assert.IsIncreasing(t, keys)
	assert.Contains(t, keys, "search.vector_threshold")
	assert.Contains(t, keys, "buffer.default_ttl")
}

func TestSettingsService_SetEmbeddingProvider(t *testing.T) {
	t.Run("ollama gets local base URL and default model", func(t *testing.T) {
		service, _ := newTestSettingsService(nil)

		require.NoError(t, service.SetEmbeddingProvider(domain.AIProviderOllama, "", ""))

		settings, err := service.Get()
		require.NoError(t, err)
		assert.Equal(t, domain.AIProviderOllama, settings.Embedding.Provider)
		assert.Equal(t, "nomic-embed-text", settings.Embedding.Model)
		assert.Equal(t, "http://localhost:11434", settings.Embedding.BaseURL)
	})

	t.Run("openai requires an API key", func(t *testing.T) {
		service, _ := newTestSettingsService(nil)

		err := service.SetEmbeddingProvider(domain.AIProviderOpenAI, "", "")

		assert.Error(t, err)
	})

	t.Run("openai clears base URL", func(t *testing.T) {
		service, store := newTestSettingsService(nil)
		_ = store.Set("embedding.base_url", "http://localhost:11434")

		require.NoError(t, service.SetEmbeddingProvider(domain.AIProviderOpenAI, "text-embedding-3-large", "sk-test"))

		settings, err := service.Get()
		require.NoError(t, err)
		assert.Empty(t, settings.Embedding.BaseURL)
		assert.Equal(t, "text-embedding-3-large", settings.Embedding.Model)
		assert.Equal(t, "sk-test", settings.Embedding.APIKey)
	})

	t.Run("invalid provider", func(t *testing.T) {
		service, _ := newTestSettingsService(nil)

		assert.Error(t, service.SetEmbeddingProvider("anthropic", "", ""))
	})
}

func TestSettingsService_Validate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(store *memory.ConfigStore)
		wantErr bool
	}{
		{"defaults", func(*memory.ConfigStore) {}, false},
		{"postgres without DSN", func(s *memory.ConfigStore) { _ = s.Set("storage.driver", "postgres") }, true},
		{"postgres with DSN", func(s *memory.ConfigStore) {
			_ = s.Set("storage.driver", "postgres")
			_ = s.Set("storage.postgres_dsn", "postgres://localhost/carchive")
		}, false},
		{"openai without key", func(s *memory.ConfigStore) { _ = s.Set("embedding.provider", "openai") }, true},
		{"negative ttl", func(s *memory.ConfigStore) { _ = s.Set("buffer.default_ttl", "-1h") }, true},
		{"default above max", func(s *memory.ConfigStore) { _ = s.Set("search.default_limit", 500) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, store := newTestSettingsService(nil)
			tt.setup(store)

			err := service.Validate()

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSettingsService_GetDefaults(t *testing.T) {
	service, _ := newTestSettingsService(nil)

	assert.Equal(t, domain.DefaultAppSettings(), service.GetDefaults())
}

func TestSettingsService_ValidateEmbeddingConfig(t *testing.T) {
	t.Run("no validator", func(t *testing.T) {
		service, _ := newTestSettingsService(nil)

		assert.NoError(t, service.ValidateEmbeddingConfig())
	})

	t.Run("validator error", func(t *testing.T) {
		service, _ := newTestSettingsService(nil)
		service.aiValidator = &mockAIConfigValidator{embedErr: errors.New("unreachable")}

		assert.EqualError(t, service.ValidateEmbeddingConfig(), "unreachable")
	})
}

type mockAIConfigValidator struct {
	embedErr error
}

func (m *mockAIConfigValidator) ValidateEmbedding(_ *domain.EmbeddingSettings) error {
	return m.embedErr
}
