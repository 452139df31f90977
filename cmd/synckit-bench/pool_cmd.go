package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pkt.systems/synckit"
)

func newPoolCommand(logLevel *string) *cobra.Command {
	var (
		minWorkers int
		maxWorkers int
		submitters int
		tasks      int
		taskTime   time.Duration
		queueDepth int
	)
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Push synthetic tasks through an elastic worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			if submitters < 1 || tasks < 1 {
				return fmt.Errorf("submitters and tasks must be >= 1")
			}
			logger, err := newBenchLogger(*logLevel)
			if err != nil {
				return err
			}
			kernel, err := synckit.New(synckit.Config{Logger: logger})
			if err != nil {
				return fmt.Errorf("start kernel: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = kernel.Shutdown(ctx)
			}()

			pool := kernel.NewPool(minWorkers, maxWorkers, synckit.WithQueueDepth(queueDepth))
			latencies := &sampleSet{}
			start := time.Now()
			g, ctx := errgroup.WithContext(cmd.Context())
			for s := 0; s < submitters; s++ {
				g.Go(func() error {
					for i := 0; i < tasks; i++ {
						began := time.Now()
						err := pool.Execute(ctx, func(ctx context.Context) error {
							if taskTime > 0 {
								time.Sleep(taskTime)
							}
							return nil
						})
						if err != nil {
							return fmt.Errorf("execute: %w", err)
						}
						latencies.add(time.Since(began))
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			elapsed := time.Since(start)

			stats := pool.Stats()
			out := cmd.OutOrStdout()
			printSummary(out, "pool", latencies.summarize(), elapsed)
			fmt.Fprintf(out, "  workers=%d completed=%d failed=%d\n",
				stats.Workers, stats.Completed, stats.Failed)
			return nil
		},
	}
	cmd.Flags().IntVar(&minWorkers, "min", 2, "minimum pool workers")
	cmd.Flags().IntVar(&maxWorkers, "max", 16, "maximum pool workers")
	cmd.Flags().IntVar(&submitters, "submitters", 8, "concurrent task submitters")
	cmd.Flags().IntVar(&tasks, "tasks", 1000, "tasks per submitter")
	cmd.Flags().DurationVar(&taskTime, "task-time", 0, "simulated work per task")
	cmd.Flags().IntVar(&queueDepth, "queue-depth", synckit.DefaultPoolQueueDepth, "task backlog capacity")
	return cmd
}
