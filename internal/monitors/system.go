// Package monitors hosts the background perception sources: periodic host
// health checks and filesystem watching. Each monitor publishes
// PerceptionEvents to the bus instead of acting on its own.
package monitors

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/internal/perception"
	"github.com/haasonsaas/hopper/pkg/models"
)

// Sample is one host resource measurement, each value in percent.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// Sampler measures host resource usage.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SystemMonitorOptions configures a SystemMonitor.
type SystemMonitorOptions struct {
	// Schedule is a cron expression; interval forms like "@every 30s"
	// work. Defaults to every 30 seconds.
	Schedule string

	CPUThreshold    float64
	MemoryThreshold float64
	DiskThreshold   float64

	// Sampler overrides host measurement, mainly for tests.
	Sampler Sampler

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// SystemMonitor periodically samples host resources and publishes a
// threshold alert the first time a resource crosses its limit. The alert
// re-arms once the resource drops back under the threshold, so a sustained
// overload produces exactly one event.
type SystemMonitor struct {
	bus     *perception.Bus
	sampler Sampler
	opts    SystemMonitorOptions
	logger  *observability.Logger
	metrics *observability.Metrics

	cron *cron.Cron

	mu     sync.Mutex
	active map[string]bool
}

// NewSystemMonitor creates a monitor publishing to bus.
func NewSystemMonitor(bus *perception.Bus, opts SystemMonitorOptions) *SystemMonitor {
	if opts.Schedule == "" {
		opts.Schedule = "@every 30s"
	}
	if opts.CPUThreshold <= 0 {
		opts.CPUThreshold = 90
	}
	if opts.MemoryThreshold <= 0 {
		opts.MemoryThreshold = 90
	}
	if opts.DiskThreshold <= 0 {
		opts.DiskThreshold = 90
	}
	sampler := opts.Sampler
	if sampler == nil {
		sampler = &hostSampler{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &SystemMonitor{
		bus:     bus,
		sampler: sampler,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		active:  make(map[string]bool),
	}
}

// Start schedules the periodic check. The first check runs on the schedule,
// not immediately.
func (m *SystemMonitor) Start(ctx context.Context) error {
	if m.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(m.opts.Schedule, func() { m.Check(ctx) }); err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", m.opts.Schedule, err)
	}
	c.Start()
	m.cron = c
	m.logger.Info(ctx, "system monitor started", "schedule", m.opts.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (m *SystemMonitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.cron = nil
}

// Check samples the host once and publishes alerts for crossed thresholds.
// It is exported so a check can be forced outside the schedule.
func (m *SystemMonitor) Check(ctx context.Context) {
	sample, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Warn(ctx, "host sample failed", "error", err)
		if m.metrics != nil {
			m.metrics.RecordError("system_monitor", "sample_failed")
		}
		return
	}

	m.evaluate(ctx, "cpu_high", sample.CPUPercent, m.opts.CPUThreshold, map[string]any{
		"cpu_percent": sample.CPUPercent,
		"threshold":   m.opts.CPUThreshold,
	}, alertPriority(sample.CPUPercent, 90, 7, 5))

	m.evaluate(ctx, "memory_high", sample.MemoryPercent, m.opts.MemoryThreshold, map[string]any{
		"memory_percent": sample.MemoryPercent,
		"threshold":      m.opts.MemoryThreshold,
	}, alertPriority(sample.MemoryPercent, 95, 7, 5))

	m.evaluate(ctx, "disk_full", sample.DiskPercent, m.opts.DiskThreshold, map[string]any{
		"disk_percent": sample.DiskPercent,
		"threshold":    m.opts.DiskThreshold,
	}, alertPriority(sample.DiskPercent, 95, 8, 6))
}

func (m *SystemMonitor) evaluate(ctx context.Context, eventType string, value, threshold float64, data map[string]any, priority int) {
	crossed := value > threshold

	m.mu.Lock()
	wasActive := m.active[eventType]
	m.active[eventType] = crossed
	m.mu.Unlock()

	switch {
	case crossed && !wasActive:
		ok := m.bus.Publish(models.PerceptionEvent{
			Source:                    "system_monitor",
			EventType:                 eventType,
			Data:                      data,
			Priority:                  priority,
			RequiresImmediateResponse: priority >= 8,
		})
		if !ok {
			m.logger.Warn(ctx, "alert dropped, bus full", "event_type", eventType)
			return
		}
		m.logger.Info(ctx, "resource alert published",
			"event_type", eventType, "value", value, "threshold", threshold)
	case !crossed && wasActive:
		m.bus.Publish(models.PerceptionEvent{
			Source:    "system_monitor",
			EventType: eventType + "_cleared",
			Data:      data,
			Priority:  2,
		})
		m.logger.Info(ctx, "resource alert cleared", "event_type", eventType)
	}
}

func alertPriority(value, severeAt float64, severe, normal int) int {
	if value > severeAt {
		return severe
	}
	return normal
}

// hostSampler reads resource usage from the host. CPU uses the 1-minute
// load average normalized by core count, which is the closest portable
// proxy without a sampling window.
type hostSampler struct{}

func (h *hostSampler) Sample(ctx context.Context) (Sample, error) {
	var s Sample

	cpu, err := readLoadCPUPercent()
	if err != nil {
		return s, fmt.Errorf("read cpu: %w", err)
	}
	s.CPUPercent = cpu

	mem, err := readMemoryPercent()
	if err != nil {
		return s, fmt.Errorf("read memory: %w", err)
	}
	s.MemoryPercent = mem

	disk, err := readDiskPercent("/")
	if err != nil {
		return s, fmt.Errorf("read disk: %w", err)
	}
	s.DiskPercent = disk

	return s, nil
}

func readLoadCPUPercent() (float64, error) {
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty loadavg")
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	pct := load / float64(runtime.NumCPU()) * 100
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

func readMemoryPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, fmt.Errorf("meminfo missing MemTotal")
	}
	return (total - available) / total * 100, nil
}

func readDiskPercent(path string) (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	total := float64(st.Blocks) * float64(st.Bsize)
	if total == 0 {
		return 0, fmt.Errorf("statfs reports zero blocks")
	}
	free := float64(st.Bavail) * float64(st.Bsize)
	return (total - free) / total * 100, nil
}
