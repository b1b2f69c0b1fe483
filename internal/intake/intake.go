package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tj/go-naturaldate"

	"github.com/auraplan/aura/internal/planner"
)

// Issue reports an item that was skipped or partly dropped.
type Issue struct {
	Index  int    // position of the item in the document
	Title  string // item title, when one could be read
	Reason string
}

func (i Issue) String() string {
	if i.Title == "" {
		return fmt.Sprintf("item %d: %s", i.Index, i.Reason)
	}
	return fmt.Sprintf("item %d (%q): %s", i.Index, i.Title, i.Reason)
}

// ParseCommitments reads a commitment document. It accepts either a bare
// array or an object with a "commitments" array.
func ParseCommitments(data []byte) ([]planner.Commitment, []Issue, error) {
	items, err := decodeItems(data, "commitments")
	if err != nil {
		return nil, nil, err
	}

	var (
		commitments []planner.Commitment
		issues      []Issue
	)
	for i, raw := range items {
		f, err := decodeFields(raw)
		if err != nil {
			issues = append(issues, Issue{Index: i, Reason: err.Error()})
			continue
		}
		c, reason := commitmentFrom(f)
		if reason != "" {
			issues = append(issues, Issue{Index: i, Title: c.Title, Reason: reason})
			continue
		}
		commitments = append(commitments, c)
	}
	return commitments, issues, nil
}

func commitmentFrom(f fields) (planner.Commitment, string) {
	var c planner.Commitment

	title, err := f.str("title", "name")
	if err != nil {
		return c, err.Error()
	}
	if title == "" {
		return c, "missing title"
	}
	c.Title = title

	rawDays, ok := f.lookup("daysOfWeek", "days_of_week", "days")
	if !ok {
		return c, "missing daysOfWeek"
	}
	var days []int
	if err := json.Unmarshal(rawDays, &days); err != nil {
		return c, "daysOfWeek must be an array of integers"
	}
	for _, d := range days {
		if d < 0 || d > 6 {
			return c, fmt.Sprintf("weekday %d out of range 0..6", d)
		}
		c.Days = append(c.Days, time.Weekday(d))
	}

	start, err := f.str("startTime", "start_time")
	if err != nil {
		return c, err.Error()
	}
	end, err := f.str("endTime", "end_time")
	if err != nil {
		return c, err.Error()
	}
	switch {
	case start == "" && end == "":
		return c, ""
	case start == "" || end == "":
		return c, "startTime and endTime must be given together"
	}
	if c.Start, err = clockPtr(start); err != nil {
		return c, err.Error()
	}
	if c.End, err = clockPtr(end); err != nil {
		return c, err.Error()
	}
	return c, ""
}

// ParseAssignments reads an assignment document. Due dates may be ISO
// dates or natural language ("next friday"), which is resolved forward
// from ref. Phases without a positive duration or with a missing or
// unknown intensity are dropped; an assignment left with no phases is skipped.
func ParseAssignments(data []byte, ref time.Time) ([]planner.Assignment, []Issue, error) {
	items, err := decodeItems(data, "assignments")
	if err != nil {
		return nil, nil, err
	}

	var (
		assignments []planner.Assignment
		issues      []Issue
	)
	for i, raw := range items {
		f, err := decodeFields(raw)
		if err != nil {
			issues = append(issues, Issue{Index: i, Reason: err.Error()})
			continue
		}

		title, err := f.str("title", "name")
		if err != nil || title == "" {
			issues = append(issues, Issue{Index: i, Reason: "missing title"})
			continue
		}
		a := planner.Assignment{Title: title}

		due, err := f.str("due_date", "deadline")
		if err != nil {
			issues = append(issues, Issue{Index: i, Title: title, Reason: err.Error()})
			continue
		}
		if due != "" {
			d, err := parseDue(due, ref)
			if err != nil {
				issues = append(issues, Issue{Index: i, Title: title, Reason: err.Error()})
				continue
			}
			a.DueDate = &d
		}

		rawPhases, ok := f.lookup("phases")
		var phases []json.RawMessage
		if !ok || json.Unmarshal(rawPhases, &phases) != nil {
			issues = append(issues, Issue{Index: i, Title: title, Reason: "phases must be an array"})
			continue
		}
		for j, rp := range phases {
			ph, reason := phaseFrom(rp)
			if reason != "" {
				issues = append(issues, Issue{Index: i, Title: title, Reason: fmt.Sprintf("phase %d: %s", j, reason)})
				continue
			}
			a.Phases = append(a.Phases, ph)
		}
		if len(a.Phases) == 0 {
			issues = append(issues, Issue{Index: i, Title: title, Reason: "no valid phases"})
			continue
		}
		assignments = append(assignments, a)
	}
	return assignments, issues, nil
}

func phaseFrom(raw json.RawMessage) (planner.Phase, string) {
	f, err := decodeFields(raw)
	if err != nil {
		return planner.Phase{}, err.Error()
	}

	title, err := f.str("title", "name")
	if err != nil {
		return planner.Phase{}, err.Error()
	}
	if title == "" {
		title = "Phase"
	}

	minutes, err := f.minutes("duration_minutes", "duration")
	if err != nil {
		return planner.Phase{}, err.Error()
	}
	if minutes <= 0 {
		return planner.Phase{}, "duration must be positive"
	}

	intensity, err := f.str("intensity")
	if err != nil {
		return planner.Phase{}, err.Error()
	}
	if intensity == "" {
		return planner.Phase{}, "missing intensity (want Low, Medium or High)"
	}
	in := planner.Intensity(intensity)
	if _, err := in.ChunkMinutes(); err != nil {
		return planner.Phase{}, err.Error()
	}

	return planner.Phase{Title: title, DurationMinutes: minutes, Intensity: in}, ""
}

func parseDue(s string, ref time.Time) (planner.Date, error) {
	if d, err := planner.ParseDate(s); err == nil {
		return d, nil
	}
	t, err := naturaldate.Parse(s, ref, naturaldate.WithDirection(naturaldate.Future))
	if err != nil {
		return planner.Date{}, fmt.Errorf("unrecognized due date %q", s)
	}
	return planner.DateOf(t.In(ref.Location())), nil
}

func clockPtr(s string) (*planner.Clock, error) {
	c, err := planner.ParseClock(s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// stripFences removes markdown code fences that models like to wrap JSON in.
func stripFences(data []byte) []byte {
	s := strings.TrimSpace(string(data))
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return []byte(strings.TrimSpace(s))
}

func decodeItems(data []byte, key string) ([]json.RawMessage, error) {
	data = stripFences(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	if data[0] == '{' {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing document: %w", err)
		}
		inner, ok := doc[key]
		if !ok {
			return nil, fmt.Errorf("document has no %q array", key)
		}
		data = bytes.TrimSpace(inner)
	}
	if string(data) == "null" {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	return items, nil
}

type fields map[string]json.RawMessage

func decodeFields(raw json.RawMessage) (fields, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return nil, fmt.Errorf("not an object")
	}
	return f, nil
}

// lookup returns the first non-null value among keys.
func (f fields) lookup(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

// str returns the first non-empty string among keys.
func (f fields) str(keys ...string) (string, error) {
	for _, k := range keys {
		v, ok := f[k]
		if !ok || string(v) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("%s must be a string", k)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
	}
	return "", nil
}

// minutes reads a duration given as a JSON number or a numeric string.
// Fractions are truncated.
func (f fields) minutes(keys ...string) (int, error) {
	v, ok := f.lookup(keys...)
	if !ok {
		return 0, nil
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		return int(n), nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%s must be a number of minutes", keys[0])
}
