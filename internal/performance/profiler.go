package performance

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Phase names recorded by the streaming manager
const (
	PhaseTreadmill = "treadmill"
	PhaseEvict     = "treadmill.evict"
	PhaseEnumerate = "treadmill.enumerate"
	PhaseDispatch  = "treadmill.dispatch"
	PhaseDrain     = "treadmill.drain"
	PhaseDraw      = "draw"
)

// Profiler tracks timing for named frame phases.
type Profiler struct {
	mu        sync.RWMutex
	metrics   map[string]*Metric
	enabled   atomic.Bool
	startTime time.Time
}

// Metric tracks statistics for one phase.
type Metric struct {
	Name      string
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	LastTime  time.Duration
	LastCall  time.Time
}

// Operation is a single timed phase.
type Operation struct {
	profiler *Profiler
	name     string
	start    time.Time
}

// NewProfiler creates a new profiler.
func NewProfiler(enabled bool) *Profiler {
	p := &Profiler{
		metrics:   make(map[string]*Metric),
		startTime: time.Now(),
	}
	p.enabled.Store(enabled)
	return p
}

// Start begins timing a phase. A nil or disabled profiler returns nil, and
// End on a nil Operation is a no-op.
func (p *Profiler) Start(name string) *Operation {
	if p == nil || !p.enabled.Load() {
		return nil
	}
	return &Operation{
		profiler: p,
		name:     name,
		start:    time.Now(),
	}
}

// End records the elapsed time and returns it.
func (o *Operation) End() time.Duration {
	if o == nil {
		return 0
	}
	d := time.Since(o.start)
	o.profiler.Record(o.name, d)
	return d
}

// Record directly records a duration.
func (p *Profiler) Record(name string, duration time.Duration) {
	if p == nil || !p.enabled.Load() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	metric, exists := p.metrics[name]
	if !exists {
		metric = &Metric{
			Name:    name,
			MinTime: duration,
			MaxTime: duration,
		}
		p.metrics[name] = metric
	}

	metric.Count++
	metric.TotalTime += duration
	metric.LastTime = duration
	metric.LastCall = time.Now()
	if duration < metric.MinTime {
		metric.MinTime = duration
	}
	if duration > metric.MaxTime {
		metric.MaxTime = duration
	}
}

// GetMetric returns a copy of one phase's statistics, or nil.
func (p *Profiler) GetMetric(name string) *Metric {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.metrics[name]
	if !ok {
		return nil
	}
	copied := *m
	return &copied
}

// Metrics returns copies of all metrics sorted by name.
func (p *Profiler) Metrics() []Metric {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Metric, 0, len(p.metrics))
	for _, m := range p.metrics {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AverageTime returns the mean duration.
func (m *Metric) AverageTime() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalTime / time.Duration(m.Count)
}

// Reset clears all metrics.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = make(map[string]*Metric)
	p.startTime = time.Now()
}

// Report generates a human-readable table.
func (p *Profiler) Report() string {
	metrics := p.Metrics()
	if len(metrics) == 0 {
		return "No performance metrics recorded"
	}

	p.mu.RLock()
	start := p.startTime
	p.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "\n=== Frame Phase Report (since %s) ===\n", start.Format(time.RFC3339))
	fmt.Fprintf(&b, "%-24s %10s %10s %10s %10s %10s\n", "Phase", "Count", "Avg", "Min", "Max", "Last")
	b.WriteString(strings.Repeat("-", 79) + "\n")
	for _, m := range metrics {
		fmt.Fprintf(&b, "%-24s %10d %10s %10s %10s %10s\n",
			m.Name,
			m.Count,
			m.AverageTime().Round(time.Microsecond),
			m.MinTime.Round(time.Microsecond),
			m.MaxTime.Round(time.Microsecond),
			m.LastTime.Round(time.Microsecond),
		)
	}
	fmt.Fprintf(&b, "\nTotal runtime: %s\n", time.Since(start).Round(time.Second))
	return b.String()
}

// LogReport logs one line per phase.
func (p *Profiler) LogReport(logger *slog.Logger) {
	for _, m := range p.Metrics() {
		logger.Info("frame phase",
			"phase", m.Name,
			"count", m.Count,
			"avg", m.AverageTime(),
			"max", m.MaxTime,
		)
	}
}

// MetricJSON is the wire form of a Metric, durations in milliseconds.
type MetricJSON struct {
	Name    string    `json:"name"`
	Count   int64     `json:"count"`
	TotalMS float64   `json:"total_ms"`
	AvgMS   float64   `json:"avg_ms"`
	MinMS   float64   `json:"min_ms"`
	MaxMS   float64   `json:"max_ms"`
	LastMS  float64   `json:"last_ms"`
	LastAt  time.Time `json:"last_call"`
}

// ReportJSON is the wire form of a full report.
type ReportJSON struct {
	StartTime time.Time    `json:"start_time"`
	RuntimeMS float64      `json:"runtime_ms"`
	Metrics   []MetricJSON `json:"metrics"`
}

// JSON builds the wire form of the report.
func (p *Profiler) JSON() ReportJSON {
	metrics := p.Metrics()

	p.mu.RLock()
	start := p.startTime
	p.mu.RUnlock()

	report := ReportJSON{
		StartTime: start,
		RuntimeMS: ms(time.Since(start)),
		Metrics:   make([]MetricJSON, 0, len(metrics)),
	}
	for _, m := range metrics {
		report.Metrics = append(report.Metrics, MetricJSON{
			Name:    m.Name,
			Count:   m.Count,
			TotalMS: ms(m.TotalTime),
			AvgMS:   ms(m.AverageTime()),
			MinMS:   ms(m.MinTime),
			MaxMS:   ms(m.MaxTime),
			LastMS:  ms(m.LastTime),
			LastAt:  m.LastCall,
		})
	}
	return report
}

// JSONReport marshals the report.
func (p *Profiler) JSONReport() ([]byte, error) {
	return json.MarshalIndent(p.JSON(), "", "  ")
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Enable enables profiling.
func (p *Profiler) Enable() {
	p.enabled.Store(true)
}

// Disable disables profiling.
func (p *Profiler) Disable() {
	p.enabled.Store(false)
}

// IsEnabled returns whether profiling is enabled.
func (p *Profiler) IsEnabled() bool {
	return p.enabled.Load()
}
