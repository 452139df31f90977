package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:           "synckit-bench",
		Short:         "Benchmark the synckit coordination kernel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "kernel log level (trace|debug|info|warn|error|off)")
	cmd.AddCommand(newContendCommand(&logLevel))
	cmd.AddCommand(newPoolCommand(&logLevel))
	return cmd
}

// newBenchLogger builds the kernel logger from the --log-level flag. Bench
// results go to stdout; logs stay on stderr.
func newBenchLogger(levelStr string) (pslog.Logger, error) {
	if levelStr == "off" {
		return pslog.NoopLogger(), nil
	}
	level, ok := pslog.ParseLevel(levelStr)
	if !ok {
		return nil, fmt.Errorf("log-level: invalid value %q", levelStr)
	}
	if level == pslog.Disabled || level == pslog.NoLevel {
		return pslog.NoopLogger(), nil
	}
	return pslog.NewStructured(os.Stderr).LogLevel(level), nil
}
