package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/dto"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current generation status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	status, err := client.Status(cmd.Context())
	if err != nil {
		return err
	}
	if isJSONOutput() {
		return printJSON(cmd.OutOrStdout(), status)
	}
	renderStatus(cmd.OutOrStdout(), status)
	return nil
}

func renderStatus(w io.Writer, status dto.StatusResponse) {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")

	state := "idle"
	if status.InProgress {
		state = "generating"
	}
	_ = table.Append("State", state)
	if status.InProgress && status.StartTime != nil {
		_ = table.Append("Started", status.StartTime.Local().Format(time.RFC3339))
		_ = table.Append("Elapsed", formatElapsed(time.Duration(status.ElapsedMs)*time.Millisecond))
	}
	if job := status.Job; job != nil {
		_ = table.Append("Job", job.ID)
		_ = table.Append("Kind", string(job.Kind))
		_ = table.Append("Status", string(job.Status))
		if job.ErrorKind != "" {
			_ = table.Append("Error", fmt.Sprintf("%s: %s", job.ErrorKind, job.ErrorMessage))
		}
		if len(job.ResultRefs) > 0 {
			_ = table.Append("Results", strings.Join(job.ResultRefs, "\n"))
		}
		if job.Partial {
			_ = table.Append("Partial", "yes")
		}
	}
	_ = table.Render()
}

// formatElapsed renders a duration as M:SS.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func jobLine(job *domain.GenerationJob) string {
	if job == nil {
		return ""
	}
	switch job.Status {
	case domain.JobStatusSucceeded:
		if job.Partial {
			return fmt.Sprintf("%s finished with partial results (%d images)", job.Kind, len(job.ResultRefs))
		}
		return fmt.Sprintf("%s finished (%d images)", job.Kind, len(job.ResultRefs))
	case domain.JobStatusFailed:
		return fmt.Sprintf("%s failed: %s", job.Kind, job.ErrorMessage)
	default:
		return fmt.Sprintf("%s %s", job.Kind, job.Status)
	}
}
