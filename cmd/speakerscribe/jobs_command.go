package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"speakerscribe/internal/jobs"
	"speakerscribe/internal/server"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var serverURL string
	var token string
	var statuses []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			base := strings.TrimSpace(serverURL)
			if base == "" {
				base = "http://" + cfg.Server.Bind
			}
			if token == "" {
				token = cfg.Server.APIToken
			}
			filter := make([]jobs.Status, 0, len(statuses))
			for _, s := range statuses {
				st := jobs.Status(strings.ToLower(strings.TrimSpace(s)))
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter = append(filter, st)
			}

			list, err := server.NewClient(base, token).ListJobs(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobTable(list, time.Now()))
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Server base URL (default: http://<server.bind>)")
	cmd.Flags().StringVar(&token, "token", "", "API token (default: server.api_token)")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (queued, running, succeeded, failed)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print jobs as JSON")
	return cmd
}

func renderJobTable(list []server.JobView, now time.Time) string {
	rows := make([][]string, 0, len(list))
	for _, j := range list {
		detail := j.Message
		if j.Status == jobs.StatusFailed {
			detail = j.ErrorKind
			if j.ErrorMessage != "" {
				detail += ": " + truncate(j.ErrorMessage, 60)
			}
		}
		rows = append(rows, []string{
			shortJobID(j.ID),
			j.OriginalName,
			string(j.Status),
			strconv.Itoa(j.Progress) + "%",
			j.Device,
			formatAge(now.Sub(j.CreatedAt)),
			detail,
		})
	}
	return renderTable(
		[]string{"ID", "File", "Status", "Progress", "Device", "Age", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
	)
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
