package planner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"testing"
	"time"
)

// 2024-01-01 is a Monday.
var monday = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func clk(h, m int) *Clock {
	return &Clock{Hour: h, Minute: m}
}

func at(day time.Time, h, m int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

func singleDayWindow() Window {
	return Window{Start: at(monday, 8, 0), End: at(monday, 22, 0)}
}

func weekWindow(t *testing.T) Window {
	t.Helper()
	w, err := NewWindow(monday, 7, Clock{Hour: 8}, Clock{Hour: 22})
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	return w
}

func mondayClass() Commitment {
	return Commitment{Title: "Algorithms", Days: []time.Weekday{time.Monday}, Start: clk(9, 0), End: clk(10, 0)}
}

func assertSpan(t *testing.T, label string, got Interval, start, end time.Time) {
	t.Helper()
	if !got.Start.Equal(start) || !got.End.Equal(end) {
		t.Errorf("%s = %s–%s, want %s–%s", label,
			got.Start.Format("Mon 15:04"), got.End.Format("Mon 15:04"),
			start.Format("Mon 15:04"), end.Format("Mon 15:04"))
	}
}

func eventSpan(e Event) Interval {
	return Interval{Start: e.Start, End: e.End}
}

func TestPlan_MediumPhaseSkipsShortSlot(t *testing.T) {
	req := Request{
		Window:      singleDayWindow(),
		Commitments: []Commitment{mondayClass()},
		Assignments: []Assignment{{
			Title:  "Essay",
			Phases: []Phase{{Title: "Draft", DurationMinutes: 90, Intensity: IntensityMedium}},
		}},
	}

	res, err := New(Options{}, nil).Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(res.Events))
	}
	assertSpan(t, "chunk 1", eventSpan(res.Events[0]), at(monday, 8, 0), at(monday, 8, 45))
	assertSpan(t, "chunk 2", eventSpan(res.Events[1]), at(monday, 10, 0), at(monday, 10, 45))

	if len(res.Free) != 2 {
		t.Fatalf("got %d remaining slots, want 2", len(res.Free))
	}
	assertSpan(t, "slot 0", res.Free[0], at(monday, 8, 45), at(monday, 9, 0))
	assertSpan(t, "slot 1", res.Free[1], at(monday, 10, 45), at(monday, 22, 0))

	if !res.Complete() || res.PlannedMinutes != 90 || res.ScheduledMinutes != 90 {
		t.Errorf("planned=%d scheduled=%d dropped=%d, want 90/90/0",
			res.PlannedMinutes, res.ScheduledMinutes, len(res.Dropped))
	}

	first := res.Events[0]
	if first.Title != "Essay - Draft" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Metadata.Assignment != "Essay" || first.Metadata.Phase != "Draft" {
		t.Errorf("metadata = %+v", first.Metadata)
	}
	if first.ID == res.Events[1].ID {
		t.Errorf("events share id %q", first.ID)
	}
}

func TestPlan_ShortLowPhaseShrinksFirstSlot(t *testing.T) {
	req := Request{
		Window:      singleDayWindow(),
		Commitments: []Commitment{mondayClass()},
		Assignments: []Assignment{{
			Title:  "Reading",
			Phases: []Phase{{Title: "Skim", DurationMinutes: 10, Intensity: IntensityLow}},
		}},
	}

	res, err := New(Options{}, nil).Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(res.Events))
	}
	assertSpan(t, "chunk", eventSpan(res.Events[0]), at(monday, 8, 0), at(monday, 8, 10))
	assertSpan(t, "slot 0", res.Free[0], at(monday, 8, 10), at(monday, 9, 0))
}

func TestPlan_DropsChunkWhoseSlotEndsAfterCutoff(t *testing.T) {
	w := weekWindow(t)
	due := DateOf(monday.AddDate(0, 0, 1))
	req := Request{
		Window:      w,
		Commitments: []Commitment{mondayClass()},
		Assignments: []Assignment{{
			Title:   "Quiz prep",
			DueDate: &due,
			Phases:  []Phase{{Title: "Review", DurationMinutes: 90, Intensity: IntensityMedium}},
		}},
	}

	res, err := New(Options{}, nil).Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// The first chunk fits the 08:00–09:00 slot. The second would fit at
	// 10:00 on its own, but that slot runs to the end of the week.
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(res.Events))
	}
	assertSpan(t, "chunk", eventSpan(res.Events[0]), at(monday, 8, 0), at(monday, 8, 45))

	if len(res.Dropped) != 1 {
		t.Fatalf("got %d dropped chunks, want 1", len(res.Dropped))
	}
	d := res.Dropped[0]
	if d.Minutes != 45 || d.Assignment != "Quiz prep" || d.Phase != "Review" {
		t.Errorf("dropped = %+v", d)
	}
	if want := at(monday, 23, 59); !d.Cutoff.Equal(want) {
		t.Errorf("cutoff = %s, want %s", d.Cutoff, want)
	}
	if res.Complete() {
		t.Error("Complete() = true with a dropped chunk")
	}
	if res.PlannedMinutes != 90 || res.ScheduledMinutes != 45 {
		t.Errorf("planned=%d scheduled=%d, want 90/45", res.PlannedMinutes, res.ScheduledMinutes)
	}
}

func TestPlan_EmptyAssignments(t *testing.T) {
	req := Request{
		Window:      weekWindow(t),
		Commitments: []Commitment{mondayClass()},
	}
	res, err := New(Options{}, nil).Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(res.Events) != 0 || len(res.Dropped) != 0 {
		t.Errorf("got %d events and %d drops, want none", len(res.Events), len(res.Dropped))
	}
}

func TestPlan_DegenerateWindow(t *testing.T) {
	for _, w := range []Window{
		{Start: at(monday, 10, 0), End: at(monday, 10, 0)},
		{Start: at(monday, 10, 0), End: at(monday, 9, 0)},
	} {
		_, err := New(Options{}, nil).Plan(context.Background(), Request{Window: w})
		if !errors.Is(err, ErrDegenerateWindow) {
			t.Errorf("window %v: err = %v, want ErrDegenerateWindow", w, err)
		}
	}
}

func TestPlan_RejectsMalformedInput(t *testing.T) {
	phase := Phase{Title: "Work", DurationMinutes: 30, Intensity: IntensityLow}
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{
			name:  "empty assignment title",
			req:   Request{Assignments: []Assignment{{Phases: []Phase{phase}}}},
			field: "assignments[0].title",
		},
		{
			name: "zero duration",
			req: Request{Assignments: []Assignment{{Title: "A", Phases: []Phase{
				phase, {Title: "Nothing", DurationMinutes: 0, Intensity: IntensityLow},
			}}}},
			field: "assignments[0].phases[1].duration_minutes",
		},
		{
			name: "unknown intensity",
			req: Request{Assignments: []Assignment{{Title: "A", Phases: []Phase{
				{Title: "Work", DurationMinutes: 30, Intensity: "Extreme"},
			}}}},
			field: "assignments[0].phases[0].intensity",
		},
		{
			name: "weekday out of range",
			req: Request{Commitments: []Commitment{
				{Title: "Lab", Days: []time.Weekday{7}, Start: clk(9, 0), End: clk(10, 0)},
			}},
			field: "commitments[0].daysOfWeek",
		},
		{
			name: "start without end",
			req: Request{Commitments: []Commitment{
				{Title: "Lab", Days: []time.Weekday{time.Monday}, Start: clk(9, 0)},
			}},
			field: "commitments[0].startTime",
		},
		{
			name:  "empty busy interval",
			req:   Request{Busy: []Interval{{Start: at(monday, 9, 0), End: at(monday, 9, 0)}}},
			field: "busy[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Window = singleDayWindow()
			_, err := New(Options{}, nil).Plan(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			var inputErr *InputError
			if !errors.As(err, &inputErr) {
				t.Fatalf("err %T is not an *InputError", err)
			}
			if inputErr.Field != tt.field {
				t.Errorf("field = %q, want %q", inputErr.Field, tt.field)
			}
		})
	}
}

func TestPlan_Limits(t *testing.T) {
	long := Window{Start: at(monday, 8, 0), End: at(monday.AddDate(0, 2, 0), 8, 0)}
	_, err := New(Options{}, nil).Plan(context.Background(), Request{Window: long})
	if !errors.Is(err, ErrWindowTooLong) {
		t.Errorf("err = %v, want ErrWindowTooLong", err)
	}

	huge := Request{
		Window: singleDayWindow(),
		Assignments: []Assignment{{Title: "Thesis", Phases: []Phase{
			{Title: "Write", DurationMinutes: 1_000_000, Intensity: IntensityLow},
		}}},
	}
	_, err = New(Options{Limits: Limits{MaxChunks: 100}}, nil).Plan(context.Background(), huge)
	if !errors.Is(err, ErrTooManyChunks) {
		t.Errorf("err = %v, want ErrTooManyChunks", err)
	}
}

func TestPlan_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := Request{
		Window: singleDayWindow(),
		Assignments: []Assignment{{Title: "A", Phases: []Phase{
			{Title: "Work", DurationMinutes: 30, Intensity: IntensityLow},
		}}},
	}
	if _, err := New(Options{}, nil).Plan(ctx, req); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPlan_FIFOIgnoresLaterDeadlines(t *testing.T) {
	w := weekWindow(t)
	// Only two hours of the week are free: Monday 08:00–10:00.
	busy := []Interval{{Start: at(monday, 10, 0), End: w.End}}
	due := DateOf(monday.AddDate(0, 0, 1))
	req := Request{
		Window: w,
		Busy:   busy,
		Assignments: []Assignment{
			{Title: "Project", Phases: []Phase{{Title: "Build", DurationMinutes: 120, Intensity: IntensityHigh}}},
			{Title: "Quiz", DueDate: &due, Phases: []Phase{{Title: "Study", DurationMinutes: 60, Intensity: IntensityHigh}}},
		},
	}

	fifo, err := New(Options{Order: OrderFIFO}, nil).Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("Plan fifo: %v", err)
	}
	if len(fifo.Dropped) != 1 || fifo.Dropped[0].Assignment != "Quiz" {
		t.Errorf("fifo dropped = %+v, want the quiz chunk", fifo.Dropped)
	}

	byDeadline, err := New(Options{Order: OrderDeadline}, nil).Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("Plan deadline: %v", err)
	}
	if len(byDeadline.Events) == 0 || byDeadline.Events[0].Metadata.Assignment != "Quiz" {
		t.Fatalf("deadline order placed %+v first, want the quiz", byDeadline.Events)
	}
	assertSpan(t, "quiz", eventSpan(byDeadline.Events[0]), at(monday, 8, 0), at(monday, 9, 0))
	if len(byDeadline.Dropped) != 1 || byDeadline.Dropped[0].Assignment != "Project" {
		t.Errorf("deadline dropped = %+v, want one project chunk", byDeadline.Dropped)
	}
}

func TestPlan_OffHoursKeepsNightsFree(t *testing.T) {
	w := weekWindow(t)
	req := Request{
		Window:   w,
		OffHours: &OffHours{Open: Clock{Hour: 8}, Close: Clock{Hour: 22}},
		Busy:     []Interval{{Start: at(monday, 8, 0), End: at(monday, 22, 0)}},
		Assignments: []Assignment{{Title: "Lab report", Phases: []Phase{
			{Title: "Write", DurationMinutes: 60, Intensity: IntensityHigh},
		}}},
	}
	res, err := New(Options{}, nil).Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(res.Events))
	}
	tuesday := monday.AddDate(0, 0, 1)
	assertSpan(t, "chunk", eventSpan(res.Events[0]), at(tuesday, 8, 0), at(tuesday, 9, 0))
}

func TestPlan_Properties(t *testing.T) {
	for seed := uint64(1); seed <= 40; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			req := randomRequest(t, seed)
			p := New(Options{}, nil)

			res, err := p.Plan(context.Background(), req)
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}

			again, err := p.Plan(context.Background(), req)
			if err != nil {
				t.Fatalf("second Plan: %v", err)
			}
			if !reflect.DeepEqual(res, again) {
				t.Fatal("identical requests produced different results")
			}

			expanded, err := ExpandCommitments(req.Commitments, req.Window)
			if err != nil {
				t.Fatalf("ExpandCommitments: %v", err)
			}
			busy := MergeIntervals(expanded)

			for i, e := range res.Events {
				span := eventSpan(e)
				if span.Start.Before(req.Window.Start) || span.End.After(req.Window.End) {
					t.Errorf("event %d %v outside window", i, span)
				}
				for j := i + 1; j < len(res.Events); j++ {
					if span.Overlaps(eventSpan(res.Events[j])) {
						t.Errorf("events %d and %d overlap", i, j)
					}
				}
				for _, b := range busy {
					if span.Overlaps(b) {
						t.Errorf("event %d %v overlaps busy %v", i, span, b)
					}
				}
			}

			cutoffs := make(map[string]time.Time)
			for _, a := range req.Assignments {
				cutoffs[a.Title] = req.Window.Cutoff(a.DueDate)
			}
			for _, e := range res.Events {
				if e.End.After(cutoffs[e.Metadata.Assignment]) {
					t.Errorf("event %s ends %s after cutoff %s", e.Title, e.End, cutoffs[e.Metadata.Assignment])
				}
			}

			scheduled := make(map[string]int)
			for _, e := range res.Events {
				scheduled[e.Title] += e.Minutes()
			}
			dropped := make(map[string]bool)
			for _, d := range res.Dropped {
				dropped[d.Assignment+" - "+d.Phase] = true
			}
			total := 0
			for _, a := range req.Assignments {
				for _, ph := range a.Phases {
					key := a.Title + " - " + ph.Title
					total += ph.DurationMinutes
					if !dropped[key] && scheduled[key] != ph.DurationMinutes {
						t.Errorf("%s: scheduled %d of %d minutes with nothing dropped", key, scheduled[key], ph.DurationMinutes)
					}
				}
			}
			if res.PlannedMinutes != total {
				t.Errorf("planned minutes = %d, want %d", res.PlannedMinutes, total)
			}
			droppedMinutes := 0
			for _, d := range res.Dropped {
				droppedMinutes += d.Minutes
			}
			if res.ScheduledMinutes+droppedMinutes != res.PlannedMinutes {
				t.Errorf("scheduled %d + dropped %d != planned %d", res.ScheduledMinutes, droppedMinutes, res.PlannedMinutes)
			}
		})
	}
}

func randomRequest(t *testing.T, seed uint64) Request {
	t.Helper()
	r := rand.New(rand.NewPCG(seed, seed*31))
	w := weekWindow(t)

	var commitments []Commitment
	for i := range r.IntN(6) {
		var days []time.Weekday
		for d := time.Sunday; d <= time.Saturday; d++ {
			if r.IntN(3) == 0 {
				days = append(days, d)
			}
		}
		start := clk(6+r.IntN(16), r.IntN(4)*15)
		end := clk((start.Hour+1+r.IntN(4))%24, r.IntN(4)*15)
		commitments = append(commitments, Commitment{
			Title: fmt.Sprintf("Class %d", i),
			Days:  days,
			Start: start,
			End:   end,
		})
	}

	intensities := []Intensity{IntensityLow, IntensityMedium, IntensityHigh}
	var assignments []Assignment
	for i := range 1 + r.IntN(5) {
		a := Assignment{Title: fmt.Sprintf("Assignment %d", i)}
		if r.IntN(2) == 0 {
			due := DateOf(monday.AddDate(0, 0, 1+r.IntN(9)))
			a.DueDate = &due
		}
		for j := range 1 + r.IntN(4) {
			a.Phases = append(a.Phases, Phase{
				Title:           fmt.Sprintf("Phase %d", j),
				DurationMinutes: 5 + r.IntN(400),
				Intensity:       intensities[r.IntN(len(intensities))],
			})
		}
		assignments = append(assignments, a)
	}

	return Request{Window: w, Commitments: commitments, Assignments: assignments}
}
