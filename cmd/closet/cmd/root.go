// Package cmd holds the closet command tree.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/apiclient"
)

var (
	cfgFile      string
	serverURL    string
	outputFormat string
	locale       string
)

var rootCmd = &cobra.Command{
	Use:           "closet",
	Short:         "CLI for the closet try-on service",
	Long:          `closet starts try-on and avatar generations on a closetd server and follows their progress.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.closet/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "closetd URL (default from config or "+apiclient.DefaultBaseURL+")")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&locale, "locale", "", "language for server messages (en, id)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".closet"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	_ = viper.BindEnv("server", "CLOSET_SERVER")
	_ = viper.BindEnv("store", "CLOSET_STORE")
	_ = viper.BindEnv("locale", "CLOSET_LOCALE")
	_ = viper.ReadInConfig()

	if serverURL == "" {
		serverURL = viper.GetString("server")
	}
	if locale == "" {
		locale = viper.GetString("locale")
	}
}

func newClient() (*apiclient.Client, error) {
	var opts []apiclient.Option
	if locale != "" {
		opts = append(opts, apiclient.WithLocale(locale))
	}
	return apiclient.New(strings.TrimRight(serverURL, "/"), opts...)
}

func isJSONOutput() bool {
	return outputFormat == "json"
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
