package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv("TRANSCRIBE_SERVER_PORT", "6001")
	cmd := transcribeCmd
	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != 6001 || cfg.Whisper.DefaultModel != "base" {
		t.Fatalf("unexpected config %+v", cfg.Server)
	}
}

func TestLoadConfigExplicitMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	if err := rootCmd.PersistentFlags().Set("config", path); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	defer func() {
		_ = rootCmd.PersistentFlags().Set("config", defaultConfigPath)
		rootCmd.PersistentFlags().Lookup("config").Changed = false
	}()

	if _, err := loadConfig(transcribeCmd); err == nil {
		t.Fatal("expected error for an explicitly named missing file")
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	t.Setenv("TRANSCRIBE_AUDIO_TEMP_DIR", t.TempDir())
	rootCmd.SetArgs([]string{"transcribe", filepath.Join(t.TempDir(), "nope.wav")})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	if err == nil || !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
