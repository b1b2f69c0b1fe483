// Package calendar reads external iCalendar feeds as busy time and renders
// plans back out as iCalendar.
package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	ical "github.com/emersion/go-ical"

	"github.com/auraplan/aura/internal/planner"
)

// Event is one occurrence of an imported calendar event.
type Event struct {
	Summary     string
	Start       time.Time
	End         time.Time
	Transparent bool // marked as free time by its owner
}

// Fetch retrieves iCalendar events from a URL or file path and returns the
// occurrences that overlap [windowStart, windowEnd). Floating times are
// read in windowStart's location.
func Fetch(ctx context.Context, source string, windowStart, windowEnd time.Time) ([]Event, error) {
	var r io.ReadCloser

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching calendar: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("calendar fetch returned status %d", resp.StatusCode)
		}
		r = resp.Body
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("opening calendar file: %w", err)
		}
		r = f
	}
	defer r.Close()

	return Parse(r, windowStart, windowEnd)
}

// Parse decodes every calendar in r and expands recurring events inside
// the window. Malformed and all-day events are skipped.
func Parse(r io.Reader, windowStart, windowEnd time.Time) ([]Event, error) {
	loc := windowStart.Location()
	dec := ical.NewDecoder(r)
	var events []Event

	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing calendar: %w", err)
		}

		for _, component := range cal.Children {
			if component.Name != ical.CompEvent {
				continue
			}
			event := ical.Event{Component: component}
			if allDay(event) {
				continue
			}

			start, err := event.DateTimeStart(loc)
			if err != nil {
				continue
			}
			end, err := event.DateTimeEnd(loc)
			if err != nil || !end.After(start) {
				continue
			}
			summary, _ := event.Props.Text(ical.PropSummary)
			transp, _ := event.Props.Text(ical.PropTransparency)
			transparent := strings.EqualFold(transp, "TRANSPARENT")

			starts := []time.Time{start}
			if set, err := event.RecurrenceSet(loc); err == nil && set != nil {
				starts = set.Between(windowStart.Add(-end.Sub(start)), windowEnd, true)
			}

			for _, s := range starts {
				e := s.Add(end.Sub(start))
				if s.Before(windowEnd) && e.After(windowStart) {
					events = append(events, Event{
						Summary:     summary,
						Start:       s,
						End:         e,
						Transparent: transparent,
					})
				}
			}
		}
	}

	return events, nil
}

// allDay reports whether the event starts on a date rather than a time.
func allDay(event ical.Event) bool {
	prop := event.Props.Get(ical.PropDateTimeStart)
	if prop == nil {
		return false
	}
	return prop.ValueType() == ical.ValueDate || len(prop.Value) == len("20060102")
}

// BusyIntervals returns the time blocked by events, skipping those marked
// as free.
func BusyIntervals(events []Event) []planner.Interval {
	var busy []planner.Interval
	for _, e := range events {
		if e.Transparent || !e.End.After(e.Start) {
			continue
		}
		busy = append(busy, planner.Interval{Start: e.Start, End: e.End})
	}
	return busy
}
