// Command ringcap runs a multi-worker AF_PACKET/TPACKET_V3 capture, or
// replays a previously recorded capture file through the same frame
// handler pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hardaker/mercury/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "ringcap",
	Short: "Multi-worker AF_PACKET/TPACKET_V3 capture engine",
}

func init() {
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

// buildLogger constructs the shared zap logger from Config.Log, used by
// both the capture and replay subcommands.
func buildLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Development = false
	level, lerr := zap.ParseAtomicLevel(cfg.Log.Level)
	if lerr == nil {
		zapCfg.Level = level
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger.Sugar(), nil
}

// Interrupted is returned by WaitInterrupted when a termination signal is
// received.
type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return m.String()
}

// WaitInterrupted blocks until either SIGINT or SIGTERM is received, or the
// provided context is canceled.
func WaitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)

	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}
