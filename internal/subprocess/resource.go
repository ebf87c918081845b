package subprocess

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/yunfie-twitter/ytdlp-api/internal/logging"
)

// ResourceCeiling bounds a single running extractor/transcoder process.
// Exceeding either limit causes the monitor to report a breach so the
// caller can cancel the job — SPEC_FULL §4.3 acts on the ceiling directly
// rather than exporting a gauge for an operator to watch.
type ResourceCeiling struct {
	MaxRSSBytes  uint64
	MaxCPUPercent float64
}

// ResourceBreach describes why a ceiling was exceeded.
type ResourceBreach struct {
	TaskID     string
	RSSBytes   uint64
	CPUPercent float64
	Reason     string
}

// OnBreach is invoked once per process the first time it crosses its
// ceiling; the monitor stops polling that process afterward.
type OnBreach func(ResourceBreach)

// ResourceMonitor polls RSS/CPU for tracked processes, grounded on the
// polling shape of the wider pack's gopsutil-based agent (process.Process,
// cpu/mem snapshots on a ticker) but repurposed here to enforce a ceiling
// rather than report telemetry.
type ResourceMonitor struct {
	Interval time.Duration
	Logger   logging.Logger

	mu      sync.Mutex
	watched map[string]watchedProc
}

type watchedProc struct {
	pid     int32
	ceiling ResourceCeiling
	breach  bool
}

// NewResourceMonitor builds a monitor polling every interval (default 10s,
// per the resource-monitoring cadence of §4.3).
func NewResourceMonitor(interval time.Duration, logger logging.Logger) *ResourceMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ResourceMonitor{
		Interval: interval,
		Logger:   logging.OrNop(logger),
		watched:  make(map[string]watchedProc),
	}
}

// Watch registers pid under taskID with the given ceiling.
func (m *ResourceMonitor) Watch(taskID string, pid int32, ceiling ResourceCeiling) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[taskID] = watchedProc{pid: pid, ceiling: ceiling}
}

// Unwatch stops tracking taskID, e.g. once its process exits.
func (m *ResourceMonitor) Unwatch(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, taskID)
}

// Run polls tracked processes until ctx is cancelled, invoking onBreach
// the first time a process crosses its ceiling.
func (m *ResourceMonitor) Run(ctx context.Context, onBreach OnBreach) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(onBreach)
		}
	}
}

func (m *ResourceMonitor) pollOnce(onBreach OnBreach) {
	m.mu.Lock()
	snapshot := make(map[string]watchedProc, len(m.watched))
	for id, w := range m.watched {
		snapshot[id] = w
	}
	m.mu.Unlock()

	for taskID, w := range snapshot {
		if w.breach {
			continue
		}
		proc, err := process.NewProcess(w.pid)
		if err != nil {
			continue
		}

		var rss uint64
		if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
			rss = memInfo.RSS
		}
		cpuPercent, err := proc.CPUPercent()
		if err != nil {
			cpuPercent = 0
		}

		reason := ""
		if w.ceiling.MaxRSSBytes > 0 && rss > w.ceiling.MaxRSSBytes {
			reason = "rss exceeded ceiling"
		} else if w.ceiling.MaxCPUPercent > 0 && cpuPercent > w.ceiling.MaxCPUPercent {
			reason = "cpu exceeded ceiling"
		}
		if reason == "" {
			continue
		}

		m.mu.Lock()
		w.breach = true
		m.watched[taskID] = w
		m.mu.Unlock()

		m.Logger.Warn("task %s: %s (rss=%d cpu=%.1f)", taskID, reason, rss, cpuPercent)
		if onBreach != nil {
			onBreach(ResourceBreach{TaskID: taskID, RSSBytes: rss, CPUPercent: cpuPercent, Reason: reason})
		}
	}
}
