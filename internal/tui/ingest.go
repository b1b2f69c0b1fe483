package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// ProposeFunc asks a model for a JSON proposal based on free text.
type ProposeFunc func(ctx context.Context, text string) ([]byte, error)

// CheckFunc validates a proposal and summarizes it as display lines plus
// any issues found.
type CheckFunc func(data []byte) (lines []string, issues []string, err error)

// IngestResult is the accepted proposal, or Skipped when the user gave up.
type IngestResult struct {
	Skipped bool
	Data    []byte
}

type proposalMsg struct {
	data []byte
	err  error
}

// IngestApp collects pasted text, sends it to a model and shows the
// validated proposal for acceptance.
type IngestApp struct {
	state   viewState
	input   inputModel
	spinner spinner.Model
	propose ProposeFunc
	check   CheckFunc
	timeout time.Duration

	data   []byte
	lines  []string
	issues []string
	errMsg string
	result *IngestResult
}

func NewIngestApp(kind string, propose ProposeFunc, check CheckFunc) *IngestApp {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return &IngestApp{
		state:   inputView,
		input:   newInputModel("aura - "+kind, "Paste the text to extract "+kind+" from.", ""),
		spinner: s,
		propose: propose,
		check:   check,
		timeout: 3 * time.Minute,
	}
}

func (a *IngestApp) Init() tea.Cmd {
	return tea.Batch(a.input.textarea.Focus(), a.spinner.Tick)
}

func (a *IngestApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			a.result = &IngestResult{Skipped: true}
			return a, tea.Quit
		}
	case proposalMsg:
		return a.handleProposal(msg)
	}

	switch a.state {
	case inputView:
		return a.updateInput(msg)
	case loadingView:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	case proposalView:
		return a.updateProposal(msg)
	case doneView:
		if _, ok := msg.(tea.KeyMsg); ok {
			return a, tea.Quit
		}
	}
	return a, nil
}

func (a *IngestApp) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.String() == "ctrl+s" {
		if strings.TrimSpace(a.input.Value()) == "" {
			return a, nil
		}
		a.state = loadingView
		return a, tea.Batch(a.spinner.Tick, a.query(a.input.Value()))
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *IngestApp) updateProposal(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return a, nil
	}
	switch keyMsg.String() {
	case "a":
		if len(a.lines) == 0 {
			return a, nil
		}
		a.result = &IngestResult{Data: a.data}
		return a, tea.Quit
	case "r":
		a.state = inputView
		return a, a.input.textarea.Focus()
	case "s":
		a.result = &IngestResult{Skipped: true}
		return a, tea.Quit
	}
	return a, nil
}

func (a *IngestApp) query(text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		data, err := a.propose(ctx, text)
		return proposalMsg{data: data, err: err}
	}
}

func (a *IngestApp) handleProposal(msg proposalMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.errMsg = msg.err.Error()
		a.state = doneView
		a.result = &IngestResult{Skipped: true}
		return a, nil
	}

	lines, issues, err := a.check(msg.data)
	if err != nil {
		a.errMsg = err.Error()
		a.state = doneView
		a.result = &IngestResult{Skipped: true}
		return a, nil
	}
	a.data, a.lines, a.issues = msg.data, lines, issues
	a.state = proposalView
	return a, nil
}

func (a *IngestApp) View() string {
	switch a.state {
	case inputView:
		return a.input.View()
	case loadingView:
		return a.spinner.View() + " Reading the document..."
	case doneView:
		return errorStyle.Render("Error: ") + a.errMsg + "\n\n" + helpStyle.Render("Press any key to exit")
	}

	var sb strings.Builder
	sb.WriteString(headerStyle.Render("Proposal"))
	sb.WriteString("\n")
	if len(a.lines) == 0 {
		sb.WriteString(mutedStyle.Render("  nothing usable was found"))
		sb.WriteString("\n")
	}
	for _, l := range a.lines {
		sb.WriteString("  " + l + "\n")
	}
	if len(a.issues) > 0 {
		sb.WriteString("\n")
		sb.WriteString(dropStyle.Render(fmt.Sprintf("Skipped (%d)", len(a.issues))))
		sb.WriteString("\n")
		for _, is := range a.issues {
			sb.WriteString(mutedStyle.Render("  "+is) + "\n")
		}
	}
	sb.WriteString(helpStyle.Render("[a]ccept • [r]etry • [s]kip"))
	return frameStyle.Render(sb.String())
}

func (a *IngestApp) GetResult() *IngestResult {
	return a.result
}
