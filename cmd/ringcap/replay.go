package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hardaker/mercury/internal/config"
	"github.com/hardaker/mercury/internal/frame/decode"
	"github.com/hardaker/mercury/internal/offline"
)

var replayCmdArgs struct {
	ConfigPath string
	InputPath  string
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a capture file through the frame handler pipeline (§4.8 Offline Source)",
	Run: func(rawCmd *cobra.Command, _ []string) {
		if err := runReplay(replayCmdArgs.ConfigPath, replayCmdArgs.InputPath); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayCmdArgs.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	replayCmd.Flags().StringVarP(&replayCmdArgs.InputPath, "input", "i", "", "Path to the capture file to replay (required)")
	replayCmd.MarkFlagRequired("config")
	replayCmd.MarkFlagRequired("input")
}

func runReplay(configPath, inputPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	r, err := offline.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open capture file %s: %w", inputPath, err)
	}
	defer r.Close()

	handler, err := (decode.Factory{Log: log}).NewHandler(0, "0000")
	if err != nil {
		return fmt.Errorf("failed to initialize frame handler: %w", err)
	}

	packets, bytes, err := offline.Dispatch(r, handler, cfg.Offline.LoopCount)
	if err != nil {
		return fmt.Errorf("replay of %s failed: %w", inputPath, err)
	}

	log.Infow("replay finished",
		"file", inputPath,
		"loop_count", cfg.Offline.LoopCount,
		"packets", packets,
		"bytes", bytes,
	)
	return nil
}
