package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

type benchSummary struct {
	count int
	avg   time.Duration
	min   time.Duration
	max   time.Duration
	p50   time.Duration
	p90   time.Duration
	p95   time.Duration
	p99   time.Duration
}

// sampleSet collects latency samples from concurrent workers.
type sampleSet struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (s *sampleSet) add(d time.Duration) {
	s.mu.Lock()
	s.samples = append(s.samples, d)
	s.mu.Unlock()
}

func (s *sampleSet) summarize() benchSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return summarize(s.samples)
}

func summarize(samples []time.Duration) benchSummary {
	if len(samples) == 0 {
		return benchSummary{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	total := time.Duration(0)
	for _, d := range samples {
		total += d
	}
	return benchSummary{
		count: len(samples),
		avg:   time.Duration(int64(total) / int64(len(samples))),
		min:   samples[0],
		max:   samples[len(samples)-1],
		p50:   percentile(samples, 50),
		p90:   percentile(samples, 90),
		p95:   percentile(samples, 95),
		p99:   percentile(samples, 99),
	}
}

// percentile expects samples sorted ascending.
func percentile(samples []time.Duration, pct float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if pct <= 0 {
		return samples[0]
	}
	if pct >= 100 {
		return samples[len(samples)-1]
	}
	pos := (pct / 100.0) * float64(len(samples)-1)
	idx := int(math.Round(pos))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	return samples[idx]
}

func printSummary(w io.Writer, label string, sum benchSummary, elapsed time.Duration) {
	rate := 0.0
	if elapsed > 0 {
		rate = float64(sum.count) / elapsed.Seconds()
	}
	fmt.Fprintf(w, "%s: %d ops in %s (%.0f ops/s)\n", label, sum.count, elapsed.Round(time.Millisecond), rate)
	fmt.Fprintf(w, "  latency avg=%s min=%s max=%s\n", sum.avg, sum.min, sum.max)
	fmt.Fprintf(w, "  p50=%s p90=%s p95=%s p99=%s\n", sum.p50, sum.p90, sum.p95, sum.p99)
}
