package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hardaker/mercury/internal/config"
	"github.com/hardaker/mercury/internal/coordinator"
	"github.com/hardaker/mercury/internal/frame/decode"
)

var captureCmdArgs struct {
	ConfigPath string
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run a live multi-worker AF_PACKET/TPACKET_V3 capture",
	Run: func(rawCmd *cobra.Command, _ []string) {
		if err := runCapture(captureCmdArgs.ConfigPath); err != nil {
			var interrupted Interrupted
			if errors.As(err, &interrupted) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureCmdArgs.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	captureCmd.MarkFlagRequired("config")
}

func runCapture(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	c, err := coordinator.New(
		cfg,
		coordinator.WithLog(log),
		coordinator.WithFrameHandlerFactory(decode.Factory{Log: log}),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize coordinator: %w", err)
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return c.Run(ctx)
	})
	wg.Go(func() error {
		err := WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
}
