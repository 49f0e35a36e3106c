package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmitchellscott/tankobon/internal/ingest"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Check whether a directory holds a complete chapter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := ingest.ValidateChapterDir(args[0])
			if err != nil {
				return err
			}

			if ctx.wantJSON(cmd) {
				if err := writeJSON(cmd, res); err != nil {
					return err
				}
			} else {
				valid := "no"
				if res.IsValid {
					valid = "yes"
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderFields([][2]string{
					{"Valid", valid},
					{"HTML", orDash(res.HTMLFile)},
					{"Mokuro", orDash(res.MokuroFile)},
					{"Images", orDash(res.ImageDir)},
				}))
			}
			if !res.IsValid {
				return fmt.Errorf("%s is not a complete chapter", args[0])
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
