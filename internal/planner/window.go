package planner

import (
	"fmt"
	"time"
)

// Window is the scheduling horizon. It is always supplied by the caller.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow builds a window that opens at open on the date of anchor and
// closes at close on the date days-1 later. A one-day window therefore
// spans open..close on the anchor date.
func NewWindow(anchor time.Time, days int, open, close Clock) (Window, error) {
	if days < 1 {
		return Window{}, fmt.Errorf("window must cover at least one day, got %d", days)
	}
	first := DateOf(anchor)
	last := DateOf(anchor.AddDate(0, 0, days-1))
	w := Window{
		Start: first.At(open, anchor.Location()),
		End:   last.At(close, anchor.Location()),
	}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return fmt.Errorf("%w: [%s, %s]", ErrDegenerateWindow,
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// Days returns midnight of every calendar date touched by the window,
// in the window's location, in ascending order. A window that ends
// before it starts touches no dates.
func (w Window) Days() []time.Time {
	if w.End.Before(w.Start) {
		return nil
	}
	loc := w.Start.Location()
	end := w.End.In(loc)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)

	var days []time.Time
	for day := time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day(), 0, 0, 0, 0, loc); !day.After(last); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}

// Cutoff returns the latest slot end allowed for an assignment due on due:
// 23:59 on the day before, clamped to the window end. A nil due date
// means the window end.
func (w Window) Cutoff(due *Date) time.Time {
	if due == nil {
		return w.End
	}
	dayBefore := time.Date(due.Year, due.Month, due.Day-1, 23, 59, 0, 0, w.Start.Location())
	if dayBefore.After(w.End) {
		return w.End
	}
	return dayBefore
}
