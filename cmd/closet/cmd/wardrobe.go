package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/dto"
)

var wardrobeCmd = &cobra.Command{
	Use:   "wardrobe",
	Short: "Manage saved clothing items",
}

var wardrobeAddCmd = &cobra.Command{
	Use:   "add <url-or-file>",
	Short: "Save a product page, image URL or local image to the wardrobe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		var res dto.WardrobeAddResponse
		source := args[0]
		if isRemote(source) {
			res, err = client.AddWardrobeURL(cmd.Context(), source)
		} else {
			data, readErr := os.ReadFile(source)
			if readErr != nil {
				return fmt.Errorf("failed to read image: %w", readErr)
			}
			res, err = client.AddWardrobeImage(cmd.Context(), data)
		}
		if err != nil {
			return err
		}
		if isJSONOutput() {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if res.Added {
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", res.Item.ImageRef)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Already in wardrobe: %s\n", res.Item.ImageRef)
		}
		return nil
	},
}

var wardrobeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List wardrobe items",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		items, err := client.Wardrobe(cmd.Context())
		if err != nil {
			return err
		}
		if isJSONOutput() {
			return printJSON(cmd.OutOrStdout(), items)
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Ref", "Title", "Source", "Added")
		for _, item := range items {
			title, source := "", ""
			if meta := item.SourceMetadata; meta != nil {
				title = meta.Title
				source = meta.PageURL
				if source == "" {
					source = meta.URL
				}
			}
			_ = table.Append(item.ImageRef, title, source, item.AddedAt.Local().Format(time.DateTime))
		}
		_ = table.Render()
		return nil
	},
}

var wardrobeRemoveCmd = &cobra.Command{
	Use:     "rm <ref>",
	Aliases: []string{"remove"},
	Short:   "Remove a wardrobe item",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.RemoveWardrobe(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(wardrobeCmd)
	wardrobeCmd.AddCommand(wardrobeAddCmd, wardrobeListCmd, wardrobeRemoveCmd)
}

func isRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:")
}
