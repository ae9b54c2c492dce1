package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/DrPeryCox/pres-gen-new/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs from the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var filter jobs.ListFilter
			filter.Limit = limit
			if strings.TrimSpace(statusFlag) != "" {
				status, err := jobs.ParseStatus(statusFlag)
				if err != nil {
					return err
				}
				filter.Status = status
			}

			store, err := jobs.Open(cmd.Context(), cfg.Store, ctx.newLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No jobs.")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, j := range list {
				rows = append(rows, []string{
					j.ID,
					string(j.Status),
					j.Phase,
					j.CreatedAt.Local().Format(time.DateTime),
					formatDuration(j),
					firstLine(j.ErrorText),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Phase", "Created", "Took", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&statusFlag, "status", "s", "", "Only jobs with this status (queued, running, done, failed, cleaned)")
	cmd.Flags().IntVarP(&limit, "limit", "n", jobs.DefaultListLimit, "Maximum number of jobs")
	return cmd
}

func formatDuration(j jobs.Job) string {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return ""
	}
	return j.FinishedAt.Sub(*j.StartedAt).Round(time.Second).String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const maxLen = 60
	if len(s) > maxLen {
		s = s[:maxLen-3] + "..."
	}
	return s
}
