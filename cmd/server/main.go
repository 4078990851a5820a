package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "config/config.yaml"

var rootCmd = &cobra.Command{
	Use:           "transcription-server",
	Short:         "Speech-to-text with speaker turns over HTTP",
	Long:          "Runs the transcription server when no subcommand is given.",
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to the YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the file named by --config. A missing default file
// falls back to built-in defaults plus environment overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flag := cmd.Flag("config")
	cfg, err := config.Load(flag.Value.String())
	if err == nil {
		return cfg, nil
	}
	if !flag.Changed && errors.Is(err, os.ErrNotExist) {
		return config.Load("")
	}
	return cfg, err
}
