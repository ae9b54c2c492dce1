package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DrPeryCox/pres-gen-new/internal/transcode"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the media tools are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			statuses := transcode.CheckBinaries(cfg.TranscodeOptions().Requirements())
			rows := make([][]string, 0, len(statuses))
			for _, s := range statuses {
				where := s.Path
				if !s.Available {
					where = s.Detail
				}
				rows = append(rows, []string{s.Name, s.Command, yesNo(s.Available), where, s.Description})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Tool", "Command", "Found", "Path", "Used for"},
				rows,
				nil,
			))

			if missing := transcode.MissingRequired(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required tool(s) missing", len(missing))
			}
			return nil
		},
	}
}
