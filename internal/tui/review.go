package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/auraplan/aura/internal/planner"
)

type viewState int

const (
	reviewView viewState = iota
	loadingView
	inputView
	proposalView
	doneView
)

// ReplanFunc reruns the planner with another placement order.
type ReplanFunc func(ctx context.Context, order planner.Order) (*planner.Result, error)

// Decision is what the user chose in the review screen.
type Decision struct {
	Accepted bool
	Order    planner.Order
	Result   *planner.Result
}

type reviewKeys struct {
	Up, Down, Accept, Order, Skip key.Binding
}

var keys = reviewKeys{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Accept: key.NewBinding(key.WithKeys("a", "enter"), key.WithHelp("a", "accept")),
	Order:  key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "switch order")),
	Skip:   key.NewBinding(key.WithKeys("s", "q", "esc"), key.WithHelp("s", "discard")),
}

type replanMsg struct {
	result *planner.Result
	order  planner.Order
	err    error
}

// ReviewApp shows a planning result and lets the user accept it, discard
// it or replan with the other placement order.
type ReviewApp struct {
	state    viewState
	spinner  spinner.Model
	window   planner.Window
	result   *planner.Result
	events   []planner.Event // chronological
	order    planner.Order
	replan   ReplanFunc
	cursor   int
	height   int
	decision *Decision
	errMsg   string
}

func NewReviewApp(window planner.Window, result *planner.Result, order planner.Order, replan ReplanFunc) *ReviewApp {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return &ReviewApp{
		state:   reviewView,
		spinner: s,
		window:  window,
		result:  result,
		events:  chronological(result.Events),
		order:   order,
		replan:  replan,
		height:  24,
	}
}

func (a *ReviewApp) Init() tea.Cmd {
	return nil
}

func (a *ReviewApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.height = msg.Height
		return a, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			a.decision = &Decision{Order: a.order, Result: a.result}
			return a, tea.Quit
		}
	case replanMsg:
		if msg.err != nil {
			a.errMsg = msg.err.Error()
		} else {
			a.result, a.order, a.cursor = msg.result, msg.order, 0
			a.events = chronological(msg.result.Events)
			a.errMsg = ""
		}
		a.state = reviewView
		return a, nil
	}

	switch a.state {
	case loadingView:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	case reviewView:
		return a.updateReview(msg)
	}
	return a, nil
}

func (a *ReviewApp) updateReview(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return a, nil
	}

	switch {
	case key.Matches(keyMsg, keys.Up):
		if a.cursor > 0 {
			a.cursor--
		}
	case key.Matches(keyMsg, keys.Down):
		if a.cursor < len(a.events)-1 {
			a.cursor++
		}
	case key.Matches(keyMsg, keys.Accept):
		a.decision = &Decision{Accepted: true, Order: a.order, Result: a.result}
		a.state = doneView
		return a, tea.Quit
	case key.Matches(keyMsg, keys.Skip):
		a.decision = &Decision{Order: a.order, Result: a.result}
		a.state = doneView
		return a, tea.Quit
	case key.Matches(keyMsg, keys.Order):
		if a.replan == nil {
			return a, nil
		}
		a.state = loadingView
		return a, tea.Batch(a.spinner.Tick, a.rerun(otherOrder(a.order)))
	}
	return a, nil
}

func (a *ReviewApp) rerun(order planner.Order) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res, err := a.replan(ctx, order)
		return replanMsg{result: res, order: order, err: err}
	}
}

func otherOrder(o planner.Order) planner.Order {
	if o == planner.OrderDeadline {
		return planner.OrderFIFO
	}
	return planner.OrderDeadline
}

func (a *ReviewApp) View() string {
	switch a.state {
	case loadingView:
		return a.spinner.View() + " Replanning..."
	case doneView:
		if a.decision != nil && a.decision.Accepted {
			return acceptedStyle.Render("Plan accepted.") + "\n"
		}
		return mutedStyle.Render("Plan discarded.") + "\n"
	}

	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("Study plan %s - %s",
		a.window.Start.Format("Mon Jan 2 15:04"), a.window.End.Format("Mon Jan 2 15:04"))))
	sb.WriteString("\n")
	sb.WriteString("\n")
	sb.WriteString(coverageBar(a.result.ScheduledMinutes, a.result.PlannedMinutes))
	sb.WriteString("\n")
	sb.WriteString(summaryStyle.Render(fmt.Sprintf("order: %s • scheduled %d of %d min",
		a.order, a.result.ScheduledMinutes, a.result.PlannedMinutes)))
	sb.WriteString("\n")

	sb.WriteString(a.eventLines())

	if n := len(a.result.Dropped); n > 0 {
		sb.WriteString("\n")
		sb.WriteString(dropStyle.Render(fmt.Sprintf("Did not fit (%d)", n)))
		sb.WriteString("\n")
		for _, d := range a.result.Dropped {
			sb.WriteString(fmt.Sprintf("  %s - %s  %3d min  %s\n",
				d.Assignment, d.Phase, d.Minutes,
				mutedStyle.Render("before "+d.Cutoff.Format("Mon Jan 2 15:04"))))
		}
	}

	if a.errMsg != "" {
		sb.WriteString("\n" + errorStyle.Render("Error: ") + a.errMsg + "\n")
	}

	help := fmt.Sprintf("[a]ccept • [o]rder: %s • [s] discard • ↑/↓ scroll", otherOrder(a.order))
	if a.replan == nil {
		help = "[a]ccept • [s] discard • ↑/↓ scroll"
	}
	sb.WriteString(helpStyle.Render(help))

	return frameStyle.Render(sb.String())
}

// eventLines renders the events around the cursor, grouped by day.
func (a *ReviewApp) eventLines() string {
	events := a.events
	if len(events) == 0 {
		return mutedStyle.Render("  nothing scheduled") + "\n"
	}

	rows := max(a.height-12, 5)
	first := 0
	if a.cursor >= rows {
		first = a.cursor - rows + 1
	}
	last := min(first+rows, len(events))

	var sb strings.Builder
	var day planner.Date
	for i := first; i < last; i++ {
		e := events[i]
		if d := planner.DateOf(e.Start); i == first || d != day {
			day = d
			sb.WriteString(dayStyle.Render(e.Start.Format("Monday Jan 2")))
			sb.WriteString("\n")
		}

		span := e.Start.Format("15:04") + "-" + e.End.Format("15:04")
		line := "  " + timeStyle.Render(span) + "  " + e.Title
		if i == a.cursor {
			line = cursorStyle.Render("> " + span + "  " + e.Title)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if last < len(events) {
		sb.WriteString(mutedStyle.Render(fmt.Sprintf("  ... %d more", len(events)-last)))
		sb.WriteString("\n")
	}
	return sb.String()
}

func chronological(events []planner.Event) []planner.Event {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b planner.Event) int {
		return a.Start.Compare(b.Start)
	})
	return sorted
}

// Decision returns the user's choice, or nil if the program was killed.
func (a *ReviewApp) Decision() *Decision {
	return a.decision
}
