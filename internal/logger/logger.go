// Package logger implements the CSV data logger (an external
// collaborator, not part of the real-time path): timestamped
// snapshots of engine-core state at a configurable rate, rotated by
// row count.
package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger records timestamped engine-core snapshots to CSV files with
// automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const maxRowsPerFile = 100_000 // rotate after 100k rows (~2.7 hrs at 10 Hz)

var csvHeader = []string{
	"timestamp", "rpm", "tooth_index", "revolution_index",
	"sync_acquired", "sync_valid", "tooth_period_us",
	"precision_tier", "tier_transitions",
	"jitter_min_us", "jitter_max_us", "jitter_mean_us",
	"advance_deg", "pulsewidth_us", "dwell_us",
	"vbat", "clt", "lambda_measured",
	"fired_count", "skipped_count", "missed_deadline_count",
}

// Snapshot is the subset of engine-core state one CSV row records.
// Kept as a plain struct (rather than depending on enginecore
// directly) so this package has no import-cycle risk and stays
// testable in isolation.
type Snapshot struct {
	RPM             int
	ToothIndex      int
	RevolutionIndex int
	SyncAcquired    bool
	SyncValid       bool
	ToothPeriodUs   float64

	PrecisionTier   int
	TierTransitions uint32

	JitterMinUs  float64
	JitterMaxUs  float64
	JitterMeanUs float64

	AdvanceDeg     float64
	PulsewidthUs   float64
	DwellUs        float64
	VBat           float64
	CLT            float64
	LambdaMeasured float64

	FiredCount          uint64
	SkippedCount        uint64
	MissedDeadlineCount uint64
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/openefi"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 50*time.Millisecond {
		interval = 100 * time.Millisecond // default 10 Hz
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes one engine-core snapshot if the minimum interval has
// elapsed since the last write.
func (l *Logger) Record(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	now := time.Now()
	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	row := buildRow(now, snap)
	if err := l.writer.Write(row); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("enginecore_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, s Snapshot) []string {
	return []string{
		ts.Format(time.RFC3339Nano),
		fmt.Sprintf("%d", s.RPM),
		fmt.Sprintf("%d", s.ToothIndex),
		fmt.Sprintf("%d", s.RevolutionIndex),
		boolStr(s.SyncAcquired),
		boolStr(s.SyncValid),
		fmt.Sprintf("%.1f", s.ToothPeriodUs),
		fmt.Sprintf("%d", s.PrecisionTier),
		fmt.Sprintf("%d", s.TierTransitions),
		fmt.Sprintf("%.1f", s.JitterMinUs),
		fmt.Sprintf("%.1f", s.JitterMaxUs),
		fmt.Sprintf("%.1f", s.JitterMeanUs),
		fmt.Sprintf("%.1f", s.AdvanceDeg),
		fmt.Sprintf("%.0f", s.PulsewidthUs),
		fmt.Sprintf("%.0f", s.DwellUs),
		fmt.Sprintf("%.1f", s.VBat),
		fmt.Sprintf("%.1f", s.CLT),
		fmt.Sprintf("%.3f", s.LambdaMeasured),
		fmt.Sprintf("%d", s.FiredCount),
		fmt.Sprintf("%d", s.SkippedCount),
		fmt.Sprintf("%d", s.MissedDeadlineCount),
	}
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
