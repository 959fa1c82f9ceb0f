package health

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/procfs"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

// errProcessGone is returned when the sampled process no longer exists.
var errProcessGone = errors.New("process not found")

// Sampler captures the resource usage of a process.
type Sampler interface {
	Sample(pid int) (domain.ResourceSnapshot, error)
}

// ProcSampler reads CPU and memory usage from procfs.
// CPU usage is measured between consecutive samples of the same pid.
// Use NewProcSampler to create a ProcSampler.
type ProcSampler struct {
	fs procfs.FS

	mu   sync.Mutex
	last map[int]cpuSample
}

type cpuSample struct {
	cpuSeconds float64
	at         time.Time
}

// NewProcSampler creates a ProcSampler reading the default procfs mount.
func NewProcSampler() (*ProcSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}

	return &ProcSampler{fs: fs, last: make(map[int]cpuSample)}, nil
}

// Sample implements Sampler.
func (s *ProcSampler) Sample(pid int) (domain.ResourceSnapshot, error) {
	proc, err := s.fs.Proc(pid)
	if err != nil {
		s.forget(pid)
		return domain.ResourceSnapshot{}, fmt.Errorf("%w: %d", errProcessGone, pid)
	}

	stat, err := proc.Stat()
	if err != nil {
		s.forget(pid)
		return domain.ResourceSnapshot{}, fmt.Errorf("%w: %d", errProcessGone, pid)
	}

	now := time.Now()
	cpu := stat.CPUTime()

	s.mu.Lock()
	prev, seen := s.last[pid]
	s.last[pid] = cpuSample{cpuSeconds: cpu, at: now}
	s.mu.Unlock()

	// Without a previous sample, average over the process lifetime.
	if !seen {
		started, err := stat.StartTime()
		if err == nil {
			prev = cpuSample{at: time.Unix(0, int64(started*float64(time.Second)))}
		} else {
			prev = cpuSample{cpuSeconds: cpu, at: now}
		}
	}

	snap := domain.ResourceSnapshot{
		PID:           pid,
		ResidentBytes: uint64(max(stat.ResidentMemory(), 0)),
		SampledAt:     now,
	}
	if wall := now.Sub(prev.at).Seconds(); wall > 0 {
		snap.CPUPercent = (cpu - prev.cpuSeconds) / wall * 100
	}

	meminfo, err := s.fs.Meminfo()
	if err != nil {
		return snap, fmt.Errorf("failed to read meminfo: %w", err)
	}
	if total := memTotalBytes(meminfo); total > 0 {
		snap.MemoryPercent = float64(snap.ResidentBytes) / float64(total) * 100
	}

	return snap, nil
}

func (s *ProcSampler) forget(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, pid)
}

func memTotalBytes(m procfs.Meminfo) uint64 {
	switch {
	case m.MemTotalBytes != nil:
		return *m.MemTotalBytes
	case m.MemTotal != nil:
		return *m.MemTotal * 1024
	default:
		return 0
	}
}

// processAlive reports whether pid refers to a live process, using a null signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))

	return err == nil || errors.Is(err, syscall.EPERM)
}
