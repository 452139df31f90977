package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pkt.systems/synckit"
	"pkt.systems/synckit/api"
)

func newContendCommand(logLevel *string) *cobra.Command {
	var (
		workers        int
		keys           int
		ops            int
		holdTime       time.Duration
		acquireTimeout time.Duration
		prioritySpread int
	)
	cmd := &cobra.Command{
		Use:   "contend",
		Short: "Hammer the lock manager with contending acquirers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers < 1 || keys < 1 || ops < 1 {
				return fmt.Errorf("workers, keys and ops must all be >= 1")
			}
			logger, err := newBenchLogger(*logLevel)
			if err != nil {
				return err
			}
			kernel, err := synckit.New(synckit.Config{
				Logger:         logger,
				AcquireTimeout: acquireTimeout,
			})
			if err != nil {
				return fmt.Errorf("start kernel: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = kernel.Shutdown(ctx)
			}()

			latencies := &sampleSet{}
			start := time.Now()
			g, ctx := errgroup.WithContext(cmd.Context())
			for w := 0; w < workers; w++ {
				w := w
				g.Go(func() error {
					owner := fmt.Sprintf("bench-worker-%d", w)
					rng := rand.New(rand.NewSource(int64(w) + start.UnixNano()))
					for i := 0; i < ops; i++ {
						if err := ctx.Err(); err != nil {
							return err
						}
						key := fmt.Sprintf("bench-key-%d", rng.Intn(keys))
						opts := []synckit.AcquireOption{synckit.WithOwner(owner)}
						if prioritySpread > 0 {
							opts = append(opts, synckit.WithPriority(rng.Intn(prioritySpread)))
						}
						began := time.Now()
						lock, err := kernel.Acquire(ctx, key, opts...)
						switch {
						case err == nil:
							latencies.add(time.Since(began))
							if holdTime > 0 {
								time.Sleep(holdTime)
							}
							if err := lock.Release(); err != nil {
								return fmt.Errorf("release %s: %w", key, err)
							}
						case errors.As(err, new(*api.LockTimeoutError)):
							// Counted by the kernel; keep hammering.
						case errors.As(err, new(*api.DeadlockDetectedError)):
							// Preempted waiters retry on the next cycle.
						default:
							return fmt.Errorf("acquire %s: %w", key, err)
						}
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			elapsed := time.Since(start)

			counters := kernel.Counters()
			out := cmd.OutOrStdout()
			printSummary(out, "contend", latencies.summarize(), elapsed)
			fmt.Fprintf(out, "  granted=%d timeouts=%d deadlocks_resolved=%d\n",
				counters.LocksGranted, counters.LockTimeouts, counters.DeadlocksResolved)
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 16, "concurrent acquirers")
	cmd.Flags().IntVar(&keys, "keys", 4, "distinct lock keys; fewer keys means more contention")
	cmd.Flags().IntVar(&ops, "ops", 1000, "acquire/release cycles per worker")
	cmd.Flags().DurationVar(&holdTime, "hold", 0, "hold time per lock before release")
	cmd.Flags().DurationVar(&acquireTimeout, "timeout", 10*time.Second, "per-acquire wait bound")
	cmd.Flags().IntVar(&prioritySpread, "priority-spread", 0, "random waiter priority in [0,n); 0 disables priorities")
	return cmd
}
