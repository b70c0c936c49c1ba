// Package ui is the bubbletea front end: a live spectrum view driven by the
// pipeline and a device picker.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/olivier-w/bandviz/internal/config"
	"github.com/olivier-w/bandviz/internal/pipeline"
	"github.com/olivier-w/bandviz/internal/smoothing"
	"github.com/olivier-w/bandviz/internal/visualizer"
)

// Engine is the part of the pipeline the UI drives.
type Engine interface {
	Tick() []float64
	Status() pipeline.Status
	Config() *config.Config
	Reconfigure(ctx context.Context, cfg *config.Config) error
	Stop() error
}

const (
	minGain = 0.5
	maxGain = 5000

	messageTTL = 4 * time.Second
)

// Model is the Bubbletea model for the live view. The pipeline must already
// be started.
type Model struct {
	ctx     context.Context
	engine  Engine
	cfg     *config.Config
	views   []visualizer.Visualizer
	view    int
	bands   []float64
	status  pipeline.Status
	spinner spinner.Model

	width, height int

	busy     bool // a reconfigure is in flight
	started  bool // the pipeline has been seen running
	msg      string
	msgErr   bool
	msgTime  time.Time
	quitting bool
}

// New creates the live view for a running engine.
func New(ctx context.Context, engine Engine) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})

	cfg := engine.Config()
	if cfg == nil {
		cfg = config.Default()
	}
	return Model{
		ctx:     ctx,
		engine:  engine,
		cfg:     cfg,
		views:   visualizer.Modes(),
		spinner: s,
		status:  engine.Status(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(frameCmd(m.cfg.Render.FPS), m.spinner.Tick, tea.SetWindowTitle("bandviz"))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if isQuit(msg) {
			return m.quit()
		}
		switch msg.String() {
		case "+", "=":
			return m.setGain(m.cfg.Analysis.Gain * gainStep)
		case "-", "_":
			return m.setGain(m.cfg.Analysis.Gain / gainStep)
		case "m":
			cfg := m.cfg.Clone()
			cfg.Smoothing.Mode = string(smoothing.Mode(cfg.Smoothing.Mode).Next())
			return m.apply(cfg, "smoothing "+cfg.Smoothing.Mode)
		case "v":
			m.view = (m.view + 1) % len(m.views)
			m.notify(m.views[m.view].Name(), false)
			return m, nil
		case "r":
			return m.apply(m.cfg.Clone(), "restarted")
		}
		return m, nil

	case frameMsg:
		m.bands = m.engine.Tick()
		m.status = m.engine.Status()
		if m.status.State == pipeline.Running {
			m.started = true
		}
		if m.msg != "" && time.Since(m.msgTime) > messageTTL {
			m.msg = ""
		}
		// A finite source that played out leaves the pipeline stopped
		// without an error.
		if m.started && !m.busy && m.status.State == pipeline.Stopped && m.status.Err == nil {
			return m.quit()
		}
		return m, frameCmd(m.cfg.Render.FPS)

	case reconfiguredMsg:
		m.busy = false
		if msg.err != nil {
			m.notify(msg.err.Error(), true)
			if cfg := m.engine.Config(); cfg != nil {
				m.cfg = cfg
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}

	return m, nil
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	_ = m.engine.Stop()
	return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
}

func (m *Model) notify(s string, isErr bool) {
	m.msg = s
	m.msgErr = isErr
	m.msgTime = time.Now()
}

func (m Model) setGain(g float64) (tea.Model, tea.Cmd) {
	g = min(max(g, minGain), maxGain)
	cfg := m.cfg.Clone()
	cfg.Analysis.Gain = g
	return m.apply(cfg, fmt.Sprintf("gain %.1f", g))
}

// apply restarts the pipeline with cfg off the UI goroutine. Keys are
// ignored while a previous change is still in flight.
func (m Model) apply(cfg *config.Config, note string) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.cfg = cfg
	m.notify(note, false)
	ctx, engine := m.ctx, m.engine
	return m, func() tea.Msg {
		return reconfiguredMsg{err: engine.Reconfigure(ctx, cfg)}
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	w := m.width
	if w < 30 {
		w = 60
	}
	h := m.height
	if h < 12 {
		h = 24
	}
	vizHeight := max(h-9, 4)

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString("  " + headerStyle.Render("bandviz") + "  " + titleStyle.Render(m.deviceName()) + "\n")
	b.WriteString("\n")
	for _, row := range strings.Split(m.views[m.view].Render(m.bands, w-4, vizHeight), "\n") {
		b.WriteString("  " + row + "\n")
	}
	b.WriteString("\n")
	b.WriteString("  " + m.statusLine() + "\n")
	switch {
	case m.msg != "" && m.msgErr:
		b.WriteString("  " + errorStyle.Render(m.msg) + "\n")
	case m.msg != "":
		b.WriteString("  " + deviceStyle.Render(m.msg) + "\n")
	case m.status.Err != nil:
		b.WriteString("  " + warnStyle.Render(m.status.Err.Error()) + "\n")
	default:
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString("  " + helpStyle.Render(helpText()) + "\n")
	return b.String()
}

func (m Model) deviceName() string {
	if m.status.Device == "" {
		return "no device"
	}
	return m.status.Device
}

func (m Model) statusLine() string {
	var icon string
	switch m.status.State {
	case pipeline.Running:
		icon = "●"
	case pipeline.Starting, pipeline.Recovering, pipeline.Stopping:
		icon = m.spinner.View()
	default:
		icon = "■"
	}
	parts := []string{
		fmt.Sprintf("%s %s", icon, m.status.State),
		m.views[m.view].Name(),
		m.cfg.Smoothing.Mode,
		fmt.Sprintf("gain %.1f", m.cfg.Analysis.Gain),
	}
	if m.status.Dropped > 0 {
		parts = append(parts, fmt.Sprintf("dropped %d", m.status.Dropped))
	}
	if m.status.Overflows > 0 {
		parts = append(parts, fmt.Sprintf("xruns %d", m.status.Overflows))
	}
	if m.status.Recoveries > 0 {
		parts = append(parts, fmt.Sprintf("recovered %d", m.status.Recoveries))
	}
	return statusStyle.Render(strings.Join(parts, "  ·  "))
}
