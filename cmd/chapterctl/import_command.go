package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rmitchellscott/tankobon/internal/ingest"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var req ingest.ImportRequest
	var number string

	cmd := &cobra.Command{
		Use:   "import <html-file>",
		Short: "Copy a chapter from local disk into the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.SourceHTMLPath = args[0]
			n, err := ingest.ParseChapterNumber(number)
			if err != nil {
				return err
			}
			req.ChapterNumber = n

			svc, err := ctx.service(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.Import(cmd.Context(), req)
			if err != nil {
				return err
			}

			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, res)
			}
			num := "-"
			if res.Metadata.ChapterNumber != nil {
				num = strconv.FormatFloat(*res.Metadata.ChapterNumber, 'f', -1, 64)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderFields([][2]string{
				{"Chapter", res.ChapterID},
				{"Series", res.Metadata.SeriesID},
				{"Title", res.Metadata.Title},
				{"Number", num},
				{"Files", strconv.Itoa(len(res.Metadata.Files))},
				{"Web path", res.WebPath},
			}))
			return nil
		},
	}

	cmd.Flags().StringVar(&req.SeriesID, "series", "", "Series UUID (required)")
	cmd.Flags().StringVar(&req.ChapterFolder, "folder", "", "Chapter directory name (default: slug of the file name plus a random suffix)")
	cmd.Flags().StringVar(&req.ChapterTitle, "title", "", "Chapter title (default: the HTML file stem)")
	cmd.Flags().StringVar(&number, "number", "", "Chapter number, e.g. 12 or 12.5")
	_ = cmd.MarkFlagRequired("series")

	return cmd
}
