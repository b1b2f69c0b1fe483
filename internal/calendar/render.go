package calendar

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	ical "github.com/emersion/go-ical"

	"github.com/auraplan/aura/internal/planner"
)

const productID = "-//auraplan//aura//EN"

var byDay = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// Render writes an iCalendar document with one event per scheduled chunk
// and one weekly recurring event per timed commitment. Recurrences start
// on the first matching date inside the window and stop at its end.
func Render(w io.Writer, events []planner.Event, commitments []planner.Commitment, window planner.Window, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	stamp := now.UTC()
	for _, e := range events {
		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, e.ID)
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		ev.Props.SetDateTime(ical.PropDateTimeStart, icalTime(e.Start))
		ev.Props.SetDateTime(ical.PropDateTimeEnd, icalTime(e.End))
		ev.Props.SetText(ical.PropSummary, e.Title)
		ev.Props.SetText(ical.PropDescription, fmt.Sprintf("Assignment: %s\nPhase: %s", e.Metadata.Assignment, e.Metadata.Phase))
		ev.Props.SetText(ical.PropCategories, "Study")
		cal.Children = append(cal.Children, ev.Component)
	}

	for i, c := range commitments {
		ev := commitmentEvent(i, c, window, stamp)
		if ev != nil {
			cal.Children = append(cal.Children, ev.Component)
		}
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encoding calendar: %w", err)
	}
	return nil
}

func commitmentEvent(i int, c planner.Commitment, window planner.Window, stamp time.Time) *ical.Event {
	if c.Start == nil || c.End == nil || len(c.Days) == 0 {
		return nil
	}

	var first time.Time
	for _, day := range window.Days() {
		if slices.Contains(c.Days, day.Weekday()) {
			first = day
			break
		}
	}
	if first.IsZero() {
		return nil
	}

	start := c.Start.On(first)
	end := c.End.On(first)
	if end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}

	days := make([]string, 0, len(c.Days))
	for _, d := range c.Days {
		if d < time.Sunday || d > time.Saturday {
			continue
		}
		if code := byDay[d]; !slices.Contains(days, code) {
			days = append(days, code)
		}
	}

	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, fmt.Sprintf("commitment-%d-%s@aura", i, window.Start.UTC().Format("20060102")))
	ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	ev.Props.SetDateTime(ical.PropDateTimeStart, icalTime(start))
	ev.Props.SetDateTime(ical.PropDateTimeEnd, icalTime(end))
	ev.Props.SetText(ical.PropSummary, c.Title)
	ev.Props.SetText(ical.PropCategories, "Class")

	rule := ical.NewProp(ical.PropRecurrenceRule)
	rule.Value = fmt.Sprintf("FREQ=WEEKLY;BYDAY=%s;UNTIL=%s",
		strings.Join(days, ","), window.End.UTC().Format("20060102T150405Z"))
	ev.Props.Set(rule)
	return ev
}

// icalTime keeps named zones so they are written with a TZID and moves
// everything else to UTC.
func icalTime(t time.Time) time.Time {
	if loc := t.Location(); loc == time.Local || loc.String() == "Local" || loc.String() == "" {
		return t.UTC()
	}
	return t
}
