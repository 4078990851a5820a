package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/diarized-transcription/internal/cleanup"
	"github.com/codebuildervaibhav/diarized-transcription/internal/logging"
	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <audio-file>",
	Short: "Transcribe a local file and print the transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

func init() {
	transcribeCmd.Flags().StringP("model", "m", "", "Model id (defaults to whisper.default_model)")
	transcribeCmd.Flags().StringP("language", "l", "", "Language hint (defaults to whisper.default_language)")
	transcribeCmd.Flags().BoolP("verbose", "v", false, "Log progress to stderr")

	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.Discard()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		log = logging.NewWithWriter(cfg.Telemetry.LogLevel, "text", os.Stderr)
	}
	// Traces and metrics are for the server only.
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricsEnabled = false

	if err := cleanup.EnsureTempDirExists(cfg.Audio.TempDir); err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, err := newService(ctx, cfg, log, serviceOptions{})
	if err != nil {
		return err
	}
	defer svc.close(ctx)

	model, _ := cmd.Flags().GetString("model")
	language, _ := cmd.Flags().GetString("language")
	res, err := svc.orchestrator.Process(ctx, pipeline.Request{
		Source:   types.SourceCLI,
		Filename: filepath.Base(path),
		Audio:    f,
		Size:     info.Size(),
		Model:    model,
		Language: language,
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), res.Transcript)
	return err
}
