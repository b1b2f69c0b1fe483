package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/auraplan/aura/internal/planner"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sampleResult() *planner.Result {
	day := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &planner.Result{
		Events: []planner.Event{
			{ID: "2", Title: "Essay - Draft", Start: day.Add(14 * time.Hour), End: day.Add(14*time.Hour + 45*time.Minute)},
			{ID: "1", Title: "Essay - Research", Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)},
		},
		Dropped:          []planner.DroppedChunk{{Assignment: "Quiz", Phase: "Study", Minutes: 30, Cutoff: day.Add(22 * time.Hour)}},
		PlannedMinutes:   135,
		ScheduledMinutes: 105,
	}
}

func sampleWindow() planner.Window {
	day := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	return planner.Window{Start: day.Add(8 * time.Hour), End: day.Add(22 * time.Hour)}
}

func TestReviewAccept(t *testing.T) {
	app := NewReviewApp(sampleWindow(), sampleResult(), planner.OrderFIFO, nil)

	view := app.View()
	for _, want := range []string{"Did not fit (1)", "Quiz - Study", "scheduled 105 of 135 min"} {
		if !strings.Contains(view, want) {
			t.Errorf("view lacks %q:\n%s", want, view)
		}
	}
	if strings.Index(view, "09:00-10:00") > strings.Index(view, "14:00-14:45") {
		t.Error("events are not shown in chronological order")
	}

	app.Update(runes("j"))
	app.Update(runes("j"))
	if app.cursor != 1 {
		t.Errorf("cursor = %d, want 1", app.cursor)
	}

	_, cmd := app.Update(runes("a"))
	if cmd == nil {
		t.Fatal("accept did not quit")
	}
	d := app.Decision()
	if d == nil || !d.Accepted || d.Order != planner.OrderFIFO {
		t.Errorf("decision = %+v", d)
	}
}

func TestReviewDiscard(t *testing.T) {
	app := NewReviewApp(sampleWindow(), sampleResult(), planner.OrderFIFO, nil)
	app.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if d := app.Decision(); d == nil || d.Accepted {
		t.Errorf("decision = %+v", d)
	}
}

func TestReviewReplan(t *testing.T) {
	var asked planner.Order
	replan := func(ctx context.Context, order planner.Order) (*planner.Result, error) {
		asked = order
		return &planner.Result{PlannedMinutes: 135, ScheduledMinutes: 135}, nil
	}
	app := NewReviewApp(sampleWindow(), sampleResult(), planner.OrderFIFO, replan)

	app.Update(runes("o"))
	if app.state != loadingView {
		t.Fatalf("state = %v, want loading", app.state)
	}

	app.Update(app.rerun(planner.OrderDeadline)())
	if asked != planner.OrderDeadline || app.order != planner.OrderDeadline {
		t.Errorf("replanned with %q, app order %q", asked, app.order)
	}
	if app.state != reviewView || len(app.result.Dropped) != 0 {
		t.Errorf("state = %v, result = %+v", app.state, app.result)
	}
}

func TestReviewReplanError(t *testing.T) {
	replan := func(context.Context, planner.Order) (*planner.Result, error) {
		return nil, errors.New("window too long")
	}
	app := NewReviewApp(sampleWindow(), sampleResult(), planner.OrderFIFO, replan)
	app.Update(runes("o"))
	app.Update(app.rerun(planner.OrderDeadline)())
	if app.order != planner.OrderFIFO || !strings.Contains(app.View(), "window too long") {
		t.Errorf("order = %q, view:\n%s", app.order, app.View())
	}
}

func TestIngestAcceptsCheckedProposal(t *testing.T) {
	propose := func(context.Context, string) ([]byte, error) { return []byte(`[]`), nil }
	check := func(data []byte) ([]string, []string, error) {
		return []string{"Algorithms  Mon Wed  10:00-11:15"}, []string{"item 1: missing title"}, nil
	}
	app := NewIngestApp("commitments", propose, check)

	app.Update(proposalMsg{data: []byte(`{"commitments":[]}`)})
	if app.state != proposalView {
		t.Fatalf("state = %v", app.state)
	}
	if view := app.View(); !strings.Contains(view, "Skipped (1)") || !strings.Contains(view, "Algorithms") {
		t.Errorf("view:\n%s", view)
	}

	app.Update(runes("a"))
	res := app.GetResult()
	if res == nil || res.Skipped || string(res.Data) != `{"commitments":[]}` {
		t.Errorf("result = %+v", res)
	}
}

func TestIngestProposalError(t *testing.T) {
	app := NewIngestApp("assignments", nil, nil)
	app.Update(proposalMsg{err: errors.New("claude CLI timed out")})
	if app.state != doneView || !app.GetResult().Skipped {
		t.Errorf("state = %v, result = %+v", app.state, app.GetResult())
	}
}

func TestCoverageBar(t *testing.T) {
	tests := []struct {
		scheduled, planned, full int
	}{
		{105, 135, 15},
		{0, 120, 0},
		{0, 0, barWidth},
		{60, 60, barWidth},
	}
	for _, tt := range tests {
		bar := coverageBar(tt.scheduled, tt.planned)
		if got := strings.Count(bar, "█"); got != tt.full {
			t.Errorf("coverageBar(%d, %d) has %d full cells, want %d", tt.scheduled, tt.planned, got, tt.full)
		}
		if got := strings.Count(bar, "█") + strings.Count(bar, "░"); got != barWidth {
			t.Errorf("coverageBar(%d, %d) is %d cells wide", tt.scheduled, tt.planned, got)
		}
	}
}
