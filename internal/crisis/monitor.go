package crisis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"go.uber.org/zap"

	"github.com/revflow-os/revcore/internal/config"
)

// Level is the crisis severity derived from host pressure.
type Level string

const (
	LevelNormal    Level = "normal"
	LevelWarning   Level = "warning"
	LevelCritical  Level = "critical"
	LevelEmergency Level = "emergency"
)

// Elevated reports whether the level should make the monitor process exit
// non-zero.
func (l Level) Elevated() bool {
	return l != LevelNormal
}

// Steal-time severity thresholds, in percent.
const (
	stealWarning   = 20
	stealCritical  = 50
	stealEmergency = 80
)

// Sample is one crisis monitor observation. It is persisted as a
// latest-value snapshot plus an append-only log line; history lives only in
// the log.
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	StealPercent float64   `json:"steal_percent"`
	Load1        float64   `json:"load_1m"`
	Level        Level     `json:"crisis_level"`
	Actions      []string  `json:"actions"`
}

// Options tunes a Monitor.
type Options struct {
	// StateFile is the latest-value snapshot path, overwritten each sample.
	StateFile string
	// LogFile is the append-only JSON-lines log path.
	LogFile string
	// SampleInterval is how long the steal-time measurement window is.
	SampleInterval time.Duration
	// LoadThreshold is the 1-minute load average above which a normal
	// severity escalates to warning. Nominally twice the core count.
	LoadThreshold float64
}

func (o *Options) applyDefaults() {
	if o.SampleInterval <= 0 {
		o.SampleInterval = time.Second
	}
	if o.LoadThreshold <= 0 {
		o.LoadThreshold = 4.0
	}
}

// Monitor samples host resource pressure and classifies it. It performs no
// remediation; the caller chains actions off its exit code.
type Monitor struct {
	opts   Options
	logger config.Logger

	stealSampler func(ctx context.Context, window time.Duration) (float64, error)
	loadSampler  func(ctx context.Context) (float64, error)
}

// New constructs a monitor. There is no package-level singleton; callers own
// the instance.
func New(logger config.Logger, opts Options) *Monitor {
	opts.applyDefaults()

	return &Monitor{
		opts:         opts,
		logger:       logger,
		stealSampler: sampleSteal,
		loadSampler:  sampleLoad,
	}
}

// Sample takes one observation, classifies it and persists it. A failed
// sub-check contributes 0 and is logged; classification always completes.
// The returned error covers persistence only.
func (m *Monitor) Sample(ctx context.Context) (*Sample, error) {
	sample := &Sample{
		Timestamp: time.Now(),
		Actions:   []string{},
	}

	steal, err := m.stealSampler(ctx, m.opts.SampleInterval)
	if err != nil {
		m.logger.Warn("steal-time sampling failed, assuming 0", zap.Error(err))
		steal = 0
	}
	sample.StealPercent = steal

	load1, err := m.loadSampler(ctx)
	if err != nil {
		m.logger.Warn("load-average sampling failed, assuming 0", zap.Error(err))
		load1 = 0
	}
	sample.Load1 = load1

	sample.Level = Classify(steal, load1, m.opts.LoadThreshold)
	sample.Actions = classificationNotes(steal, load1, m.opts.LoadThreshold)

	m.logger.Info("crisis sample",
		zap.Float64("steal_percent", steal),
		zap.Float64("load_1m", load1),
		zap.String("crisis_level", string(sample.Level)),
	)

	if err := m.persist(sample); err != nil {
		return sample, err
	}
	return sample, nil
}

// Classify maps steal time and load average to a severity. Steal time
// dominates; load only escalates a still-normal severity to warning, never
// downgrades.
func Classify(stealPercent, load1, loadThreshold float64) Level {
	level := LevelNormal
	switch {
	case stealPercent >= stealEmergency:
		level = LevelEmergency
	case stealPercent >= stealCritical:
		level = LevelCritical
	case stealPercent >= stealWarning:
		level = LevelWarning
	}

	if level == LevelNormal && load1 >= loadThreshold {
		level = LevelWarning
	}

	return level
}

func classificationNotes(stealPercent, load1, loadThreshold float64) []string {
	notes := []string{}
	if stealPercent >= stealWarning {
		notes = append(notes, fmt.Sprintf("steal time %.1f%% above %d%% threshold", stealPercent, stealThresholdFor(stealPercent)))
	}
	if load1 >= loadThreshold && stealPercent < stealWarning {
		notes = append(notes, fmt.Sprintf("load average %.2f above %.2f threshold", load1, loadThreshold))
	}
	return notes
}

func stealThresholdFor(stealPercent float64) int {
	switch {
	case stealPercent >= stealEmergency:
		return stealEmergency
	case stealPercent >= stealCritical:
		return stealCritical
	default:
		return stealWarning
	}
}

// persist writes the snapshot atomically and appends a log line. The
// snapshot is overwrite-in-place; the log is the only history.
func (m *Monitor) persist(sample *Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encoding crisis sample: %w", err)
	}

	if m.opts.StateFile != "" {
		if err := writeFileAtomic(m.opts.StateFile, data); err != nil {
			return fmt.Errorf("writing crisis state: %w", err)
		}
	}

	if m.opts.LogFile != "" {
		if err := appendLine(m.opts.LogFile, data); err != nil {
			return fmt.Errorf("appending crisis log: %w", err)
		}
	}

	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func appendLine(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// sampleSteal measures the steal-time share of CPU time over the window by
// differencing two cumulative readings.
func sampleSteal(ctx context.Context, window time.Duration) (float64, error) {
	before, err := cpuTimes(ctx)
	if err != nil {
		return 0, err
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(window):
	}

	after, err := cpuTimes(ctx)
	if err != nil {
		return 0, err
	}

	totalDelta := after.Total() - before.Total()
	if totalDelta <= 0 {
		return 0, nil
	}

	stealDelta := after.Steal - before.Steal
	if stealDelta < 0 {
		stealDelta = 0
	}

	return stealDelta / totalDelta * 100, nil
}

func cpuTimes(ctx context.Context) (cpu.TimesStat, error) {
	stats, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return cpu.TimesStat{}, err
	}
	if len(stats) == 0 {
		return cpu.TimesStat{}, fmt.Errorf("no aggregate cpu times reported")
	}
	return stats[0], nil
}

func sampleLoad(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}
