package ui

import tea "github.com/charmbracelet/bubbletea"

func isQuit(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return true
	}
	return false
}

// gainStep scales analyzer gain per keypress.
const gainStep = 1.25

func helpText() string {
	return "+/- gain  m smoothing  v view  r restart  q quit"
}
