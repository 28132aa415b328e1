// Command notescribe transcribes monophonic audio recordings into Standard
// MIDI Files, either as an HTTP service or from the command line.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/notescribe/internal/config"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flag defaults are reapplied to the
// package-level flag variables on every call.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "notescribe",
		Short: "Transcribe audio recordings into MIDI",
		Long: `notescribe converts monophonic audio (WAV, MP3, FLAC, OGG Vorbis) into
Standard MIDI Files.

Pipeline: audio → spectral frames → onsets and pitch tracks → notes → MIDI`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file (default: built-in defaults)")

	root.AddCommand(newServeCmd(), newTranscribeCmd(), newInspectCmd(), newToneCmd())
	return root
}

// configPath is shared by every command that reads the YAML configuration.
var configPath string

// loadConfig returns the configuration at configPath, or the defaults when no
// path was given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
		}
		return nil, err
	}
	return cfg, nil
}

// newLogger installs a text logger on stderr whose level follows lv.
func newLogger(lv *slog.LevelVar, level config.LogLevel) *slog.Logger {
	lv.Set(level.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
	slog.SetDefault(logger)
	return logger
}
