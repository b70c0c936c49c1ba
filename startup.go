package main

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/olivier-w/bandviz/internal/capture"
	"github.com/olivier-w/bandviz/internal/config"
	"github.com/olivier-w/bandviz/internal/ui"
)

// engine is the pipeline as the startup flow sees it.
type engine interface {
	ui.Engine
	Start(ctx context.Context, cfg *config.Config) error
}

type startupPhase int

const (
	phasePick startupPhase = iota
	phaseOpening
)

var (
	startupHeaderStyle = lipgloss.NewStyle().Bold(true)
	startupStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})
	startupErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#CC3333", Dark: "#FF6666"})
	startupHelpStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"})
)

type startupResolvedMsg struct {
	err error
}

// startupModel optionally lets the user pick a device, then starts the
// pipeline behind a spinner and hands over to the live view.
type startupModel struct {
	ctx     context.Context
	engine  engine
	cfg     *config.Config
	phase   startupPhase
	picker  ui.PickerModel
	devs    []capture.Device
	picked  capture.Device
	spinner spinner.Model
	errMsg  string
	err     error // start failure with no picker to fall back to
	width   int
	height  int
}

// newStartupModel starts cfg on e. With devs it shows the picker first and
// returns to it when the chosen device fails to open.
func newStartupModel(ctx context.Context, e engine, cfg *config.Config, devs []capture.Device) startupModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = startupStatusStyle

	m := startupModel{
		ctx:     ctx,
		engine:  e,
		cfg:     cfg,
		phase:   phaseOpening,
		spinner: s,
	}
	if len(devs) > 0 {
		m.phase = phasePick
		m.devs = devs
		m.picker = ui.NewPicker(devs, preferred(devs, cfg))
	}
	return m
}

func (m startupModel) Init() tea.Cmd {
	if m.phase == phasePick {
		return m.picker.Init()
	}
	return tea.Batch(m.spinner.Tick, m.startCmd())
}

func (m startupModel) startCmd() tea.Cmd {
	ctx, e, cfg := m.ctx, m.engine, m.cfg.Clone()
	return func() tea.Msg {
		return startupResolvedMsg{err: e.Start(ctx, cfg)}
	}
}

func startupIsQuit(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return true
	}
	return false
}

func (m startupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		if m.phase != phaseOpening {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case startupResolvedMsg:
		if msg.err != nil {
			if len(m.devs) == 0 {
				m.err = msg.err
				return m, tea.Quit
			}
			m.phase = phasePick
			m.errMsg = msg.err.Error()
			m.picker = ui.NewPicker(m.devs, m.picked)
			if m.width > 0 || m.height > 0 {
				next, _ := m.picker.Update(tea.WindowSizeMsg{Width: m.width, Height: m.height})
				m.picker = next.(ui.PickerModel)
			}
			return m, nil
		}

		live := ui.New(m.ctx, m.engine)
		cmds := []tea.Cmd{live.Init()}
		if m.width > 0 || m.height > 0 {
			w, h := m.width, m.height
			cmds = append(cmds, func() tea.Msg {
				return tea.WindowSizeMsg{Width: w, Height: h}
			})
		}
		return live, tea.Batch(cmds...)

	case tea.KeyMsg:
		if m.phase == phaseOpening && startupIsQuit(msg) {
			return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
		}
	}

	if m.phase == phasePick {
		return m.updatePicker(msg)
	}
	return m, nil
}

func (m startupModel) updatePicker(msg tea.Msg) (tea.Model, tea.Cmd) {
	next, cmd := m.picker.Update(msg)
	if p, ok := next.(ui.PickerModel); ok {
		m.picker = p
	}
	if !m.picker.Done() {
		return m, cmd
	}

	res := m.picker.Result()
	if res.Cancelled {
		return m, cmd
	}
	// The picker's own quit is dropped; the program continues into the
	// live view.
	m.picked = res.Device
	m.cfg = m.cfg.Clone()
	m.cfg.Audio.Device = res.Device.ID
	m.phase = phaseOpening
	m.errMsg = ""
	return m, tea.Batch(m.spinner.Tick, m.startCmd())
}

func (m startupModel) View() string {
	if m.phase == phasePick {
		if m.errMsg == "" {
			return m.picker.View()
		}
		return "\n  bandviz\n\n  " + startupErrorStyle.Render(m.errMsg) + "\n\n" + indentBlock(m.picker.View(), "  ")
	}

	var b strings.Builder
	b.WriteString("\n  ")
	b.WriteString(startupHeaderStyle.Render("bandviz"))
	b.WriteString("\n\n  ")
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	label := "Opening capture device..."
	if m.cfg.Audio.Backend == config.BackendFile {
		label = "Opening files..."
	}
	b.WriteString(startupStatusStyle.Render(label))
	b.WriteString("\n\n  ")
	b.WriteString(startupHelpStyle.Render("q quit"))
	b.WriteString("\n")
	return b.String()
}

func indentBlock(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
