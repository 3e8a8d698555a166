package ui

import (
	"sync"
	"time"
)

// speedWindow is the minimum spacing between throughput samples; closer
// updates are folded into the next sample to keep the meter readable.
const speedWindow = 500 * time.Millisecond

// etaSmoothing weights fresh ETA estimates at 30% against the previous
// value so per-document variance does not make the display jump.
const etaSmoothing = 0.3

// speedMeter derives docs/sec from progress updates. Guarded by the
// tracker's lock.
type speedMeter struct {
	lastCount int
	lastAt    time.Time
	current   float64
	avg       float64
	peak      float64
	samples   int
	spark     *Sparkline
}

func (m *speedMeter) reset(now time.Time) {
	*m = speedMeter{lastAt: now, spark: m.spark}
	m.spark.Clear()
}

// observe folds one progress reading into the meter. Readings closer
// together than speedWindow are skipped.
func (m *speedMeter) observe(count int, now time.Time) {
	elapsed := now.Sub(m.lastAt)
	if elapsed < speedWindow {
		return
	}
	if delta := count - m.lastCount; delta > 0 {
		speed := float64(delta) / elapsed.Seconds()
		m.current = speed
		m.samples++
		if m.samples == 1 {
			m.avg = speed
		} else {
			m.avg = 0.2*speed + 0.8*m.avg
		}
		if speed > m.peak {
			m.peak = speed
		}
		m.spark.Add(speed)
	}
	m.lastCount = count
	m.lastAt = now
}

// SpeedStats is the throughput snapshot shown in the TUI footer.
type SpeedStats struct {
	Current float64 // docs/sec right now
	Avg     float64 // exponentially smoothed
	Peak    float64
}

// ProgressStats is one consistent snapshot of the tracker.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentFile string
	ErrorCount  int
	WarnCount   int
	Speed       SpeedStats
}

// ProgressTracker accumulates reindex progress across stages. Safe for
// concurrent use: the poller updates it while the renderer reads.
type ProgressTracker struct {
	mu          sync.Mutex
	stage       Stage
	current     int
	total       int
	currentFile string
	startTime   time.Time
	stageStart  time.Time
	errors      []ErrorEvent
	warnings    []ErrorEvent
	lastETA     time.Duration
	speed       speedMeter
}

func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	p := &ProgressTracker{
		stage:      StageScanning,
		startTime:  now,
		stageStart: now,
	}
	p.speed.spark = NewSparkline(60)
	p.speed.lastAt = now
	return p
}

// SetStage moves to a new stage, resetting progress, the speed meter
// and the ETA smoothing.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.stage = stage
	p.total = total
	p.current = 0
	p.currentFile = ""
	p.stageStart = now
	p.lastETA = 0
	p.speed.reset(now)
}

// Update records progress within the current stage. An empty file name
// keeps the previous one on screen.
func (p *ProgressTracker) Update(current int, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if file != "" {
		p.currentFile = file
	}
	p.speed.observe(current, time.Now())
}

// AddError records a processing failure; warnings and errors are kept
// apart so the summary can count them separately.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Progress returns completion in [0, 1].
func (p *ProgressTracker) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fraction()
}

// ETA estimates the remaining stage time, smoothed across calls.
func (p *ProgressTracker) ETA() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.smoothedETA()
}

// Elapsed is the time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.startTime)
}

// Stats returns one consistent snapshot of everything the renderers
// need.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    p.fraction(),
		ETA:         p.smoothedETA(),
		CurrentFile: p.currentFile,
		ErrorCount:  len(p.errors),
		WarnCount:   len(p.warnings),
		Speed:       SpeedStats{Current: p.speed.current, Avg: p.speed.avg, Peak: p.speed.peak},
	}
}

// SpeedStats returns the current throughput snapshot.
func (p *ProgressTracker) SpeedStats() SpeedStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SpeedStats{Current: p.speed.current, Avg: p.speed.avg, Peak: p.speed.peak}
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ErrorEvent, len(p.errors))
	copy(out, p.errors)
	return out
}

// Warnings returns a copy of the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ErrorEvent, len(p.warnings))
	copy(out, p.warnings)
	return out
}

// RenderSparkline draws the throughput history at the given width.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed.spark.RenderWithWidth(width)
}

// fraction computes completion with the lock held.
func (p *ProgressTracker) fraction() float64 {
	if p.total == 0 {
		return 0
	}
	f := float64(p.current) / float64(p.total)
	if f > 1 {
		return 1
	}
	return f
}

// smoothedETA extrapolates remaining time from the stage's pace and
// blends it with the previous estimate. Lock held; updates lastETA.
func (p *ProgressTracker) smoothedETA() time.Duration {
	f := p.fraction()
	if f <= 0 || f >= 1 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	remaining := time.Duration(float64(elapsed)/f) - elapsed
	if remaining < 0 {
		remaining = 0
	}

	if p.lastETA == 0 {
		p.lastETA = remaining
	} else {
		p.lastETA = time.Duration(etaSmoothing*float64(remaining) + (1-etaSmoothing)*float64(p.lastETA))
	}
	return p.lastETA
}
