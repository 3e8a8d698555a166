package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// stopGrace bounds how long Stop waits for the bubbletea program to
// exit before giving up, so Ctrl+C never hangs the process.
const stopGrace = 2 * time.Second

// TUIRenderer drives the bubbletea reindex view. Events go through the
// shared ProgressTracker; messages to the program only force repaints.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *reindexModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when the output is
// not a TTY so NewRenderer can fall back to plain mode.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newReindexModel(tracker, cfg.WorkingDir)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	_, r.cancel = context.WithCancel(ctx)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.CurrentFile)
	r.send(progressUpdateMsg(event))
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	r.send(errorMsg(event))
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	r.send(completeMsg(stats))
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program == nil {
		return nil
	}

	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(stopGrace):
	}
	return nil
}

// send forwards a message to the running program. Callers hold the
// lock.
func (r *TUIRenderer) send(msg tea.Msg) {
	if r.program != nil {
		r.program.Send(msg)
	}
}

// bubbletea message types
type (
	progressUpdateMsg ProgressEvent
	errorMsg          ErrorEvent
	completeMsg       CompletionStats
	tickMsg           time.Time
)

// reindexModel is the bubbletea model for reindex progress.
type reindexModel struct {
	tracker     *ProgressTracker
	width       int
	height      int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	workingDir  string
}

func newReindexModel(tracker *ProgressTracker, workingDir string) *reindexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	bar := progress.New(
		progress.WithSolidFill(ColorLime),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &reindexModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: bar,
		styles:      DefaultStyles(),
		width:       80,
		height:      24,
		workingDir:  workingDir,
	}
}

// Init implements tea.Model.
func (m *reindexModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// tickCmd repaints the view every 100ms so ETA and speed stay fresh
// between catalog polls.
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *reindexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if s := msg.String(); s == "ctrl+c" || s == "q" {
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progressBar.Width = max(msg.Width-20, 20)

	case progressUpdateMsg, errorMsg:
		// State lives in the tracker; the message only forces a repaint.

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *reindexModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := m.contentWidth()
	divider := m.styles.Border.Render(strings.Repeat("─", contentWidth))

	sections := []string{
		m.renderStages(),
		divider,
		m.renderProgress(),
		m.renderSpeedMetrics(),
		divider,
		m.renderSparkline(contentWidth),
	}
	if file := m.tracker.Stats().CurrentFile; file != "" {
		sections = append(sections, divider,
			m.styles.Dim.Render(truncateFilePath(file, contentWidth-2)))
	}

	title := "Reindex"
	if m.workingDir != "" {
		title += ": " + m.workingDir
	}

	panel := lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1).
			Width(contentWidth).
			Render(strings.Join(sections, "\n")),
	)
	return panel + "\n" + m.renderStatusBar()
}

func (m *reindexModel) contentWidth() int {
	return max(m.width-4, 40)
}

// renderStages draws the two-step pipeline header with the active
// stage spinning.
func (m *reindexModel) renderStages() string {
	current := m.tracker.Stats().Stage

	render := func(stage Stage, name string) string {
		switch {
		case stage < current:
			return m.styles.Success.Render("● " + name)
		case stage == current:
			return m.styles.Active.Render(m.spinner.View() + " " + name)
		default:
			return m.styles.Dim.Render("○ " + name)
		}
	}

	arrow := m.styles.Dim.Render(" > ")
	return render(StageScanning, "Scan") + arrow + render(StageIndexing, "Index")
}

func (m *reindexModel) renderProgress() string {
	stats := m.tracker.Stats()

	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...\n%s",
			m.spinner.View(),
			stats.Stage.String(),
			m.styles.Dim.Render("Waiting for the catalog..."))
	}

	return fmt.Sprintf("%s  %s\n%s",
		m.progressBar.ViewAs(stats.Progress),
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100)),
		m.styles.Label.Render(fmt.Sprintf("%d / %d documents", stats.Current, stats.Total)))
}

func (m *reindexModel) renderSpeedMetrics() string {
	stats := m.tracker.Stats()

	speedStr := fmt.Sprintf("Speed: %.1f/s", stats.Speed.Current)
	if stats.Speed.Avg > 0 {
		speedStr += fmt.Sprintf(" (avg: %.1f, peak: %.1f)", stats.Speed.Avg, stats.Speed.Peak)
	}

	parts := []string{m.styles.Speed.Render(speedStr)}
	if stats.ETA > 0 {
		parts = append(parts, m.styles.Label.Render("ETA: "+formatDuration(stats.ETA)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  |  "))
}

func (m *reindexModel) renderSparkline(width int) string {
	spark := m.tracker.RenderSparkline(max(width-12, 10))
	return m.styles.Sparkline.Render(spark) + m.styles.Dim.Render(" throughput")
}

func (m *reindexModel) renderStatusBar() string {
	stats := m.tracker.Stats()

	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("%d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("%d errors", stats.ErrorCount)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))

	return strings.Join(parts, m.styles.Dim.Render("  |  "))
}

// renderComplete draws the final summary panel.
func (m *reindexModel) renderComplete() string {
	row := func(label string, value string, style lipgloss.Style) string {
		return m.styles.Label.Render(label) + " " + style.Render(value)
	}

	lines := []string{
		m.styles.Success.Render("Reindex complete"),
		"",
		row("Indexed: ", fmt.Sprintf("%d / %d", m.stats.Indexed, m.stats.Documents), m.styles.Active),
		row("Duration:", formatDuration(m.stats.Duration), m.styles.Active),
	}
	if speed := m.tracker.SpeedStats(); speed.Avg > 0 {
		lines = append(lines, row("Avg speed:", fmt.Sprintf("%.1f docs/sec", speed.Avg), m.styles.Speed))
	}
	if m.stats.Failed > 0 || m.stats.Warnings > 0 {
		lines = append(lines, "")
		if m.stats.Failed > 0 {
			lines = append(lines, m.styles.Error.Render(fmt.Sprintf("%d failed", m.stats.Failed)))
		}
		if m.stats.Warnings > 0 {
			lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("%d warnings", m.stats.Warnings)))
		}
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorLime)).
		Padding(1, 2).
		Width(m.contentWidth())
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders a duration as 5s, 2m 30s, or 1h 5m.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		mins, secs := int(d.Minutes()), int(d.Seconds())%60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncateFilePath shortens a path to maxLen, preferring to keep the
// filename intact and elide leading directories.
func truncateFilePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}

	slash := strings.LastIndex(path, "/")
	if slash < 0 {
		if maxLen < 4 {
			return "..."
		}
		return "..." + path[len(path)-maxLen+3:]
	}

	dir, file := path[:slash], path[slash+1:]
	if len(file)+4 > maxLen {
		return "..." + file[len(file)-maxLen+3:]
	}

	keep := maxLen - len(file) - 4 // room for ".../"
	if keep <= 0 {
		return ".../" + file
	}
	if len(dir) <= keep {
		return path
	}
	return "..." + dir[len(dir)-keep:] + "/" + file
}

var _ Renderer = (*TUIRenderer)(nil)
