// Package resources samples the memory and CPU use of the running migration.
package resources

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const defaultInterval = 500 * time.Millisecond

// Usage is one reading of the current process.
type Usage struct {
	RSS     uint64  `json:"rss_bytes"`
	CPU     float64 `json:"cpu_percent"`
	Threads int32   `json:"threads,omitempty"`
}

// Sampler polls the current process in the background and keeps the peak
// resident set size seen since Start.
type Sampler struct {
	proc     *process.Process
	interval time.Duration

	mu     sync.Mutex
	last   Usage
	peak   Usage
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSampler attaches to the current process. A zero interval uses the
// default.
func NewSampler(ctx context.Context, interval time.Duration) (*Sampler, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open own process: %w", err)
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sampler{proc: p, interval: interval}, nil
}

// Sample reads the process once and folds the reading into the peak.
func (s *Sampler) Sample(ctx context.Context) (Usage, error) {
	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read memory info: %w", err)
	}
	cpuPct, _ := s.proc.CPUPercentWithContext(ctx)
	threads, _ := s.proc.NumThreadsWithContext(ctx)

	u := Usage{RSS: mem.RSS, CPU: cpuPct, Threads: threads}
	s.mu.Lock()
	s.last = u
	if u.RSS > s.peak.RSS {
		s.peak = u
	}
	s.mu.Unlock()
	return u, nil
}

// Start begins background sampling. Calling Start on a running sampler is
// a no-op.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.peak = Usage{}
	s.mu.Unlock()

	go s.loop(ctx)
}

func (s *Sampler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	_, _ = s.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Sample(ctx)
		}
	}
}

// Stop ends background sampling, takes a final reading and returns the
// peak.
func (s *Sampler) Stop() Usage {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	_, _ = s.Sample(context.Background())
	return s.Peak()
}

// Peak returns the reading with the highest RSS.
func (s *Sampler) Peak() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// Last returns the most recent reading.
func (s *Sampler) Last() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
