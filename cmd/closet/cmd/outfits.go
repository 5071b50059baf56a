package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var outfitsCmd = &cobra.Command{
	Use:   "outfits",
	Short: "Manage generated outfits",
}

var outfitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generated outfits, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		outfits, err := client.Outfits(cmd.Context())
		if err != nil {
			return err
		}
		if isJSONOutput() {
			return printJSON(cmd.OutOrStdout(), outfits)
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("ID", "Image", "Garments", "Multi", "Created")
		for _, o := range outfits {
			_ = table.Append(
				o.ID,
				client.ImageURL(o.GeneratedImageRef),
				strings.Join(o.SourceGarmentRefs, "\n"),
				strconv.FormatBool(o.IsMultiItem),
				o.CreatedAt.Local().Format(time.DateTime),
			)
		}
		_ = table.Render()
		return nil
	},
}

var outfitsRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Remove an outfit",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.RemoveOutfit(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed outfit %s\n", args[0])
		return nil
	},
}

var outfitsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every outfit",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.ClearOutfits(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Outfits cleared.")
		return nil
	},
}

var outfitsExportCmd = &cobra.Command{
	Use:   "export <file.zip>",
	Short: "Download every outfit image with a manifest as a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		data, err := client.ExportOutfits(cmd.Context())
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], data, 0o644); err != nil {
			return fmt.Errorf("failed to write archive: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", args[0], len(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(outfitsCmd)
	outfitsCmd.AddCommand(outfitsListCmd, outfitsRemoveCmd, outfitsClearCmd, outfitsExportCmd)
}
