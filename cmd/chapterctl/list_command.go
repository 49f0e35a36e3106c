package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var series string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List chapters recorded in the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := ctx.openRegistry()
			if err != nil {
				return err
			}
			if repo == nil {
				return errors.New("chapter registry is disabled (REGISTRY_ENABLED=false)")
			}
			chapters, err := repo.List(cmd.Context(), series)
			if err != nil {
				return err
			}

			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, chapters)
			}
			if len(chapters) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No chapters")
				return nil
			}
			rows := make([][]string, 0, len(chapters))
			for _, c := range chapters {
				num := "-"
				if c.ChapterNumber != nil {
					num = strconv.FormatFloat(*c.ChapterNumber, 'f', -1, 64)
				}
				rows = append(rows, []string{
					c.SeriesID,
					num,
					c.Title,
					c.ChapterID,
					strconv.Itoa(c.FileCount),
					c.AddedDate.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Series", "No.", "Title", "Chapter", "Files", "Added"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&series, "series", "", "Only list chapters of this series")
	return cmd
}
