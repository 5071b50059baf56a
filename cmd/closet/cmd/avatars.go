package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
)

var retryPoses []int

var avatarsCmd = &cobra.Command{
	Use:   "avatars",
	Short: "Manage generated avatars",
}

var avatarsGenerateCmd = &cobra.Command{
	Use:   "generate <photo>...",
	Short: "Generate the avatar set from one to four photos",
	Args:  cobra.RangeArgs(1, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		photos := make([][]byte, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read photo: %w", err)
			}
			photos = append(photos, data)
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		job, err := client.GenerateAvatars(cmd.Context(), photos)
		if err != nil {
			return err
		}
		return reportJob(cmd, client, job)
	},
}

var avatarsRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Regenerate failed poses from the stored source photos",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		job, err := client.RetryAvatars(cmd.Context(), retryPoses)
		if err != nil {
			return err
		}
		return reportJob(cmd, client, job)
	},
}

var avatarsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List avatars and the current selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		view, err := client.Avatars(cmd.Context())
		if err != nil {
			return err
		}
		if isJSONOutput() {
			return printJSON(cmd.OutOrStdout(), view)
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("#", "Pose", "State", "Image", "Updated")
		for i, rec := range view.Avatars {
			index := strconv.Itoa(i)
			if i == view.SelectedIndex {
				index += " *"
			}
			pose := strconv.Itoa(rec.PoseID)
			if p, ok := domain.PoseByID(domain.DefaultPoses, rec.PoseID); ok {
				pose = p.Name
			}
			image := rec.ImageRef
			if rec.State == domain.AvatarFailed {
				image = rec.Error
			}
			_ = table.Append(index, pose, string(rec.State), image, rec.UpdatedAt.Local().Format(time.DateTime))
		}
		_ = table.Render()
		if view.Partial {
			fmt.Fprintln(cmd.OutOrStdout(), "\nSome poses failed. Run \"closet avatars retry\" to regenerate them.")
		}
		return nil
	},
}

var avatarsSelectCmd = &cobra.Command{
	Use:   "select <index>",
	Short: "Select the avatar used for try-ons",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("index must be a number: %w", err)
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.SelectAvatar(cmd.Context(), idx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Avatar %d selected.\n", idx)
		return nil
	},
}

var avatarsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all avatars",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.ClearAvatars(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Avatars cleared.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(avatarsCmd)
	avatarsCmd.AddCommand(avatarsGenerateCmd, avatarsRetryCmd, avatarsListCmd, avatarsSelectCmd, avatarsClearCmd)

	for _, c := range []*cobra.Command{avatarsGenerateCmd, avatarsRetryCmd} {
		c.Flags().BoolVarP(&waitForJob, "wait", "w", false, "follow progress until the job finishes")
	}
	avatarsRetryCmd.Flags().IntSliceVar(&retryPoses, "pose", nil, "pose ids to retry (default: every failed pose)")
}
