package tui

import (
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
)

type inputModel struct {
	textarea textarea.Model
	header   string
	hint     string
}

func newInputModel(header, hint, prefill string) inputModel {
	ta := textarea.New()
	ta.Placeholder = "Paste the syllabus or assignment sheet here..."
	ta.Focus()
	ta.CharLimit = 0
	ta.SetWidth(72)
	ta.SetHeight(12)
	ta.ShowLineNumbers = false

	if prefill != "" {
		ta.SetValue(prefill)
	}

	return inputModel{
		textarea: ta,
		header:   header,
		hint:     hint,
	}
}

func (m inputModel) Update(msg tea.Msg) (inputModel, tea.Cmd) {
	if ws, ok := msg.(tea.WindowSizeMsg); ok && ws.Width > 4 {
		m.textarea.SetWidth(min(ws.Width-4, 100))
	}
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	header := headerStyle.Render(m.header)
	hint := summaryStyle.Render(m.hint)
	help := helpStyle.Render("Ctrl+S: submit • Ctrl+C: cancel")

	return header + "\n" + hint + "\n" + m.textarea.View() + "\n" + help
}

func (m inputModel) Value() string {
	return m.textarea.Value()
}
