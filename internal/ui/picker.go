package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/olivier-w/bandviz/internal/capture"
)

// PickerResult holds the outcome of the device picker.
type PickerResult struct {
	Device    capture.Device
	Cancelled bool
}

type deviceItem struct {
	dev capture.Device
}

func (i deviceItem) Title() string { return i.dev.Name }

func (i deviceItem) Description() string {
	parts := []string{i.dev.Backend, fmt.Sprintf("%d ch", i.dev.Channels)}
	if i.dev.DefaultSampleRate > 0 {
		parts = append(parts, fmt.Sprintf("%.0f Hz", i.dev.DefaultSampleRate))
	}
	if i.dev.Loopback {
		parts = append(parts, "loopback")
	}
	if i.dev.Default {
		parts = append(parts, "default")
	}
	return strings.Join(parts, " · ")
}

func (i deviceItem) FilterValue() string { return i.dev.Name }

// PickerModel lets the user choose a capture device.
type PickerModel struct {
	list   list.Model
	result *PickerResult
}

// NewPicker lists devs with the entry at selected highlighted. Devices
// without input channels are left out.
func NewPicker(devs []capture.Device, selected capture.Device) PickerModel {
	items := make([]list.Item, 0, len(devs))
	cursor := 0
	for _, d := range devs {
		if d.Channels < 1 {
			continue
		}
		if d.ID == selected.ID && d.Backend == selected.Backend {
			cursor = len(items)
		}
		items = append(items, deviceItem{dev: d})
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#FFFFFF"}).
		BorderLeftForeground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}).
		BorderLeftForeground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})

	l := list.New(items, delegate, 80, 20)
	l.Title = "bandviz · choose a capture device"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = headerStyle
	l.Select(cursor)

	return PickerModel{list: l}
}

// Result returns the picker outcome after the program finishes.
func (m PickerModel) Result() PickerResult {
	if m.result != nil {
		return *m.result
	}
	return PickerResult{Cancelled: true}
}

// Done reports whether the user has chosen a device or cancelled.
func (m PickerModel) Done() bool { return m.result != nil }

func (m PickerModel) Init() tea.Cmd {
	return tea.SetWindowTitle("bandviz")
}

func (m PickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Don't intercept keys when filtering
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(deviceItem); ok {
				m.result = &PickerResult{Device: item.dev}
				return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
			}
		case "q", "esc", "ctrl+c":
			m.result = &PickerResult{Cancelled: true}
			return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
		}

	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height)
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m PickerModel) View() string {
	return m.list.View()
}
