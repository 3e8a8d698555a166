package ui

import "strings"

// sparkLevels are the eight block characters a sample can render as.
var sparkLevels = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps a ring of throughput samples and renders them as a
// row of block characters scaled against the largest sample in view.
// The reindex TUI feeds it one docs/sec sample per tick.
type Sparkline struct {
	samples []float64
	head    int // next write position
	count   int // total samples ever added
}

// NewSparkline holds the last width samples. Width defaults to 60, one
// minute of history at a sample per second.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{samples: make([]float64, width)}
}

// Add records one sample, evicting the oldest once the ring is full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// Clear drops all samples.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
}

// Count returns how many samples have ever been added.
func (s *Sparkline) Count() int {
	return s.count
}

// Render draws the full ring width.
func (s *Sparkline) Render() string {
	return s.RenderWithWidth(len(s.samples))
}

// RenderWithWidth draws the most recent width samples, left-padded with
// spaces while the history is still shorter than the window.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 || width > len(s.samples) {
		width = len(s.samples)
	}
	if s.count == 0 {
		return strings.Repeat(string(sparkLevels[0]), width)
	}

	window := s.window(width)
	max := 1.0
	for _, v := range window {
		if v > max {
			max = v
		}
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	for i := width - len(window); i > 0; i-- {
		sb.WriteRune(' ')
	}
	for _, v := range window {
		sb.WriteRune(sparkLevels[levelFor(v, max)])
	}
	return sb.String()
}

// window returns up to n of the newest samples, oldest first.
func (s *Sparkline) window(n int) []float64 {
	have := s.count
	if have > len(s.samples) {
		have = len(s.samples)
	}
	if n > have {
		n = have
	}

	out := make([]float64, 0, n)
	// Newest sample sits just before head; walk back n slots.
	start := s.head - n
	if start < 0 {
		start += len(s.samples)
	}
	for i := 0; i < n; i++ {
		out = append(out, s.samples[(start+i)%len(s.samples)])
	}
	return out
}

func levelFor(v, max float64) int {
	idx := int(v / max * float64(len(sparkLevels)-1))
	if idx < 0 {
		return 0
	}
	if idx >= len(sparkLevels) {
		return len(sparkLevels) - 1
	}
	return idx
}
