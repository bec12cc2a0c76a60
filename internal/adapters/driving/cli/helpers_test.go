package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carchive/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/services"
)

// testEnv holds the in-memory stores behind the wired services.
type testEnv struct {
	entities *memory.EntityStore
	buffers  *memory.BufferStore
}

// setupTestServices wires real services over memory stores and restores the
// package state when the test ends.
func setupTestServices(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("USER", "tester")
	t.Setenv("TERM_SESSION_ID", "")

	oldInit, oldSearch, oldBuffer := initServices, searchService, bufferService
	oldSettings, oldWriter := settingsService, entityWriter
	t.Cleanup(func() {
		initServices, searchService, bufferService = oldInit, oldSearch, oldBuffer
		settingsService, entityWriter = oldSettings, oldWriter
	})

	env := &testEnv{entities: memory.NewEntityStore(), buffers: memory.NewBufferStore()}
	search := services.NewSearchService(env.entities, nil, domain.DefaultAppSettings().Search)

	initServices = func(*cobra.Command) error { return nil }
	searchService = search
	buffers := services.NewBufferService(env.buffers, search, 0)
	buffers.SetEntityWriter(env.entities)
	bufferService = buffers
	settingsService = services.NewSettingsService(memory.NewConfigStore(), nil)
	entityWriter = env.entities
	return env
}

// seed loads a small archive.
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	rows := []domain.Row{
		{Type: domain.EntityMessage, ID: "m1", CreatedAt: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
			Columns:  map[string]string{"role": "user", "content": "the quick brown fox"},
			MetaInfo: map[string]any{"source": "chatgpt"}},
		{Type: domain.EntityMessage, ID: "m2", CreatedAt: time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC),
			Columns:  map[string]string{"role": "assistant", "content": "lazy dogs sleep"},
			MetaInfo: map[string]any{"source": "claude"}},
		{Type: domain.EntityChunk, ID: "c1", CreatedAt: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
			Columns: map[string]string{"message_id": "m1", "content": "a fox in the snow"}},
		{Type: domain.EntityCollection, ID: "col1", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Columns: map[string]string{"name": "Fox research"}},
	}
	for _, r := range rows {
		require.NoError(t, e.entities.PutEntity(ctx, r))
	}
}

// runCommand executes the root command with args and returns its output.
// Flags are reset afterwards so tests do not leak values into each other.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		resetFlags(rootCmd)
	}()

	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
