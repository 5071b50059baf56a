package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/dto"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the generation API key stored by closetd",
}

var keySetCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Validate and store an API key (read from stdin when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) == 1 {
			key = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read key: %w", err)
			}
			key = line
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("key is empty")
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		status, err := client.SetAPIKey(cmd.Context(), key)
		if err != nil {
			return err
		}
		return printKeyStatus(cmd, status)
	},
}

var keyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether an API key is configured",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		status, err := client.APIKeyStatus(cmd.Context())
		if err != nil {
			return err
		}
		return printKeyStatus(cmd, status)
	},
}

var keyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.ClearAPIKey(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "API key cleared.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keySetCmd, keyStatusCmd, keyClearCmd)
}

func printKeyStatus(cmd *cobra.Command, status dto.APIKeyStatusResponse) error {
	if isJSONOutput() {
		return printJSON(cmd.OutOrStdout(), status)
	}
	if !status.Configured {
		fmt.Fprintln(cmd.OutOrStdout(), "No API key configured.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "API key configured: %s\n", status.Masked)
	return nil
}
