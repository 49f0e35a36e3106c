package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rmitchellscott/tankobon/internal/ingest"
	"github.com/rmitchellscott/tankobon/internal/security"
	"github.com/rmitchellscott/tankobon/internal/storage"
)

func newMirrorCommand(ctx *commandContext) *cobra.Command {
	var remove, verify bool

	cmd := &cobra.Command{
		Use:   "mirror <series-id> <chapter-id>",
		Short: "Copy a published chapter to the mirror backend again, verify it, or remove it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mirror, err := storage.NewMirrorFromEnv(cmd.Context())
			if err != nil {
				return err
			}
			if mirror == nil {
				return errors.New("no mirror configured (set MIRROR_BACKEND)")
			}

			seriesID, err := security.ValidateLibraryName(args[0])
			if err != nil {
				return fmt.Errorf("invalid series id: %w", err)
			}
			chapterID, err := security.ValidateLibraryName(args[1])
			if err != nil {
				return fmt.Errorf("invalid chapter id: %w", err)
			}

			if remove && verify {
				return errors.New("--remove and --verify are mutually exclusive")
			}
			if verify {
				missing, err := mirror.VerifyChapter(cmd.Context(), seriesID, chapterID)
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("%s/%s is not on the mirror", seriesID, chapterID)
				}
				if err != nil {
					return err
				}
				if len(missing) > 0 {
					for _, rel := range missing {
						fmt.Fprintf(cmd.OutOrStdout(), "missing %s\n", rel)
					}
					return fmt.Errorf("%d files missing from the mirror", len(missing))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%s is complete on the mirror\n", seriesID, chapterID)
				return nil
			}

			if remove {
				if err := mirror.RemoveChapter(cmd.Context(), seriesID, chapterID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s/%s from the mirror\n", seriesID, chapterID)
				return nil
			}

			dir := filepath.Join(ctx.libraryRoot(), seriesID, chapterID)
			meta, err := ingest.ReadMetadata(dir)
			if err != nil {
				return fmt.Errorf("%s is not a published chapter: %w", dir, err)
			}
			if err := mirror.MirrorChapter(cmd.Context(), meta.SeriesID, meta.ID, dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mirrored %s/%s (%d files)\n", meta.SeriesID, meta.ID, len(meta.Files))
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "Delete the chapter from the mirror instead")
	cmd.Flags().BoolVar(&verify, "verify", false, "Check that every file of the chapter is on the mirror")
	return cmd
}
