package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/apiclient"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/dto"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/monitor"
)

var (
	tryOnFiles        []string
	tryOnAvatar       int
	tryOnInstructions string
	waitForJob        bool
)

var tryOnCmd = &cobra.Command{
	Use:   "tryon [garment-ref...]",
	Short: "Start a try-on with wardrobe items or local garment images",
	Long: `tryon dresses the selected avatar in one garment, or in several at once.
Garments are wardrobe refs (see "closet wardrobe list") or local files given
with --file.

Example:
  closet tryon images/3f2a.jpg
  closet tryon --file shirt.png --file pants.jpg --wait
  closet tryon images/3f2a.jpg --avatar 2 --instructions "tuck the shirt in"`,
	RunE: runTryOn,
}

func init() {
	rootCmd.AddCommand(tryOnCmd)

	tryOnCmd.Flags().StringArrayVar(&tryOnFiles, "file", nil, "local garment image (repeatable)")
	tryOnCmd.Flags().IntVar(&tryOnAvatar, "avatar", -1, "avatar index to use (default: selected avatar)")
	tryOnCmd.Flags().StringVar(&tryOnInstructions, "instructions", "", "extra styling instructions")
	tryOnCmd.Flags().BoolVarP(&waitForJob, "wait", "w", false, "follow progress until the job finishes")
}

func runTryOn(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && len(tryOnFiles) == 0 {
		return fmt.Errorf("give at least one garment ref or --file")
	}
	client, err := newClient()
	if err != nil {
		return err
	}

	req := dto.TryOnRequest{GarmentRefs: args, Instructions: tryOnInstructions}
	if tryOnAvatar >= 0 {
		idx := tryOnAvatar
		req.AvatarIndex = &idx
	}
	for _, path := range tryOnFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read garment: %w", err)
		}
		req.Garments = append(req.Garments, dto.EncodeImage(data))
	}

	job, err := client.TryOn(cmd.Context(), req)
	if err != nil {
		return err
	}
	return reportJob(cmd, client, job)
}

// reportJob prints a freshly started job and, with --wait, follows it.
func reportJob(cmd *cobra.Command, client *apiclient.Client, job domain.GenerationJob) error {
	if isJSONOutput() && !waitForJob {
		return printJSON(cmd.OutOrStdout(), job)
	}
	if !isJSONOutput() {
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Field", "Value")
		_ = table.Append("Job", job.ID)
		_ = table.Append("Kind", string(job.Kind))
		_ = table.Append("Status", string(job.Status))
		_ = table.Append("Timeout", job.TimeoutBudget.String())
		_ = table.Render()
	}
	if !waitForJob {
		fmt.Fprintln(cmd.OutOrStdout(), "\nGeneration started. Run \"closet watch\" to follow it.")
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := watch(ctx, monitor.Options{
		Source:  client,
		Push:    client,
		Gallery: client,
		View:    newLineView(cmd.OutOrStdout()),
		Logger:  infra.DiscardLogger(),
	}); err != nil {
		return err
	}
	if isJSONOutput() {
		status, err := client.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), status)
	}
	return nil
}
