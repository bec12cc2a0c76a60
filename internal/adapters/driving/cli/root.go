// Package cli provides the carchive command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
	"github.com/custodia-labs/carchive/internal/core/ports/driving"
	"github.com/custodia-labs/carchive/internal/logger"
)

// version is set at build time via Execute.
var version = "dev"

// Services used by the commands. They are wired once per invocation by
// initServices and may be replaced in tests.
var (
	searchService   driving.SearchService
	bufferService   driving.BufferService
	settingsService driving.SettingsService
	entityWriter    driven.EntityWriter
	closers         []io.Closer
)

// initServices wires the services before a command runs.
var initServices = wireServices

var (
	verbose   bool
	configDir string
	owner     string
)

// Command annotations controlling initServices.
const (
	// skipServices marks commands that need no services at all.
	skipServices = "skip-services"

	// settingsOnly marks commands that only need the settings service, so a
	// broken configuration can still be repaired.
	settingsOnly = "settings-only"
)

var rootCmd = &cobra.Command{
	Use:   "carchive",
	Short: "Search your conversation archive",
	Long: `carchive searches archived AI conversations, messages, chunks, media,
agent outputs and collections with one query, and keeps result sets as named
buffers that can be narrowed or combined later.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetVerbose(verbose)
		if cmd.Annotations[skipServices] == "true" {
			return nil
		}
		return initServices(cmd)
	},
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		return closeServices()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug output to stderr")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default ~/.carchive)")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "", "buffer owner (default $USER:$TERM_SESSION_ID)")
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context, v string) error {
	version = v
	defer closeServices() //nolint:errcheck // already reported by the post-run hook
	return rootCmd.ExecuteContext(ctx)
}

func closeServices() error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	closers = nil
	return errors.Join(errs...)
}

// currentOwner returns the --owner flag, or the user and terminal session.
func currentOwner() string {
	if owner != "" {
		return owner
	}
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if session := os.Getenv("TERM_SESSION_ID"); session != "" {
		return user + ":" + session
	}
	return user
}

// bufferHint adds a next step to buffer lookup errors.
func bufferHint(err error) error {
	switch {
	case errors.Is(err, domain.ErrBufferExpired):
		return fmt.Errorf("%w (it has been removed; run a fresh search and save it again)", err)
	case errors.Is(err, domain.ErrBufferNotFound):
		return fmt.Errorf("%w (see 'carchive buffer list' or run a fresh search)", err)
	default:
		return err
	}
}
