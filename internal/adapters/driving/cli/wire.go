package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/carchive/internal/adapters/driven/ai"
	"github.com/custodia-labs/carchive/internal/adapters/driven/config/file"
	"github.com/custodia-labs/carchive/internal/adapters/driven/storage/badger"
	"github.com/custodia-labs/carchive/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/carchive/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
	"github.com/custodia-labs/carchive/internal/core/services"
	"github.com/custodia-labs/carchive/internal/logger"
)

// wireServices builds the stores and services named by the settings.
func wireServices(cmd *cobra.Command) error {
	logger.Section("Startup")
	dir := configDir
	if dir == "" {
		var err error
		if dir, err = file.DefaultConfigDir(); err != nil {
			return fmt.Errorf("resolving config directory: %w", err)
		}
	}
	loadDotEnv(filepath.Join(dir, ".env"), ".env")

	configStore, err := file.NewConfigStore(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	settingsSvc := services.NewSettingsService(configStore, ai.NewConfigValidator())
	settingsService = settingsSvc
	if cmd.Annotations[settingsOnly] == "true" {
		return nil
	}

	settings, err := settingsSvc.Get()
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}
	if err := settingsSvc.Validate(); err != nil {
		return err
	}

	dataDir := settings.Storage.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(dir, "data")
	}

	var sqliteStore *sqlite.Store
	openSQLite := func() (*sqlite.Store, error) {
		if sqliteStore != nil {
			return sqliteStore, nil
		}
		s, err := sqlite.NewStore(dataDir)
		if err != nil {
			return nil, err
		}
		logger.Debug("opened sqlite store at %s", s.Path())
		closers = append(closers, s)
		sqliteStore = s
		return s, nil
	}

	var entities driven.EntityStore
	switch settings.Storage.Driver {
	case domain.StoragePostgres:
		pg, err := postgres.NewStore(cmd.Context(), settings.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("opening postgres store: %w", err)
		}
		closers = append(closers, pg)
		entities, entityWriter = pg, pg
	default:
		s, err := openSQLite()
		if err != nil {
			return fmt.Errorf("opening sqlite store: %w", err)
		}
		entities, entityWriter = s.EntityStore(), s.EntityStore()
	}

	var buffers driven.BufferStore
	switch settings.Buffer.Backend {
	case domain.BufferBackendBadger:
		b, err := badger.NewBufferStore(filepath.Join(dataDir, "buffers"))
		if err != nil {
			return fmt.Errorf("opening badger buffer store: %w", err)
		}
		closers = append(closers, b)
		buffers = b
	default:
		s, err := openSQLite()
		if err != nil {
			return fmt.Errorf("opening sqlite buffer store: %w", err)
		}
		buffers = s.BufferStore()
	}

	embedder, err := ai.CreateEmbeddingService(&settings.Embedding)
	if err != nil {
		logger.Warn("embedding provider disabled: %v", err)
		embedder = nil
	}
	if embedder != nil {
		closers = append(closers, embedder)
		logger.Debug("embedding provider %s (%s)", settings.Embedding.Provider, embedder.ModelName())
	}

	search := services.NewSearchService(entities, embedder, settings.Search)
	search.SetEmbeddingTimeout(settings.Embedding.Timeout)
	searchService = search
	bufferSvc := services.NewBufferService(buffers, search, settings.Buffer.DefaultTTL)
	bufferSvc.SetEntityWriter(entityWriter)
	bufferService = bufferSvc

	logger.Debug("storage=%s buffers=%s data=%s", settings.Storage.Driver, settings.Buffer.Backend, dataDir)
	return nil
}

// loadDotEnv loads the first existing files; variables already set win.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			logger.Warn("loading %s: %v", p, err)
			continue
		}
		logger.Debug("loaded environment from %s", p)
	}
}
