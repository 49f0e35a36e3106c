package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmitchellscott/tankobon/internal/config"
	"github.com/rmitchellscott/tankobon/internal/database"
	"github.com/rmitchellscott/tankobon/internal/ingest"
	"github.com/rmitchellscott/tankobon/internal/storage"
)

// commandContext carries the persistent flags and lazily opened resources
// shared by all subcommands.
type commandContext struct {
	library  string
	jsonOut  bool
	registry *database.ChapterRepo
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "chapterctl",
		Short:         "Manage the tankobon chapter library",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.library, "library", "", "Library root (default $LIBRARY_ROOT or $DATA_DIR/library)")
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonOut, "json", false, "Always print JSON, even on a terminal")

	rootCmd.AddCommand(newImportCommand(ctx))
	rootCmd.AddCommand(newValidateCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newMirrorCommand(ctx))
	rootCmd.AddCommand(newVersionCommand(ctx))

	return rootCmd
}

func (c *commandContext) libraryRoot() string {
	if c.library != "" {
		return c.library
	}
	return config.LibraryRoot()
}

// openRegistry returns nil when REGISTRY_ENABLED is false.
func (c *commandContext) openRegistry() (*database.ChapterRepo, error) {
	if c.registry != nil {
		return c.registry, nil
	}
	if !config.GetBool("REGISTRY_ENABLED", true) {
		return nil, nil
	}
	if err := database.Initialize(); err != nil {
		return nil, err
	}
	c.registry = database.NewChapterRepo(database.DB)
	return c.registry, nil
}

// service builds an ingest service wired to the registry and mirror the
// server would use.
func (c *commandContext) service(ctx context.Context) (*ingest.Service, error) {
	opts := ingest.OptionsFromEnv()
	opts.LibraryRoot = c.libraryRoot()

	repo, err := c.openRegistry()
	if err != nil {
		return nil, err
	}
	if repo != nil {
		opts.Registry = repo
	}

	mirror, err := storage.NewMirrorFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mirror: %w", err)
	}
	if mirror != nil {
		opts.Mirror = mirror
	}
	return ingest.NewService(opts)
}

func (c *commandContext) close() error {
	if c.registry == nil {
		return nil
	}
	c.registry = nil
	return database.Close()
}
