package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid planner input")
	ErrDegenerateWindow = errors.New("window end must be after window start")
	ErrWindowTooLong    = errors.New("window exceeds the configured maximum length")
	ErrTooManyChunks    = errors.New("assignments expand to more chunks than allowed")
)

// InputError describes a structural problem with a Request. It always
// matches ErrInvalidInput under errors.Is.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a 24-hour "HH:MM" string.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("parsing clock time %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns the number of minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// On combines the clock time with the calendar date of day.
func (c Clock) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Date is a calendar date without a time or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// ParseDate parses a "YYYY-MM-DD" string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// At returns the moment at the given clock time on d in loc.
func (d Date) At(c Clock, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Intensity controls how a phase is split into work chunks.
type Intensity string

const (
	IntensityLow    Intensity = "Low"
	IntensityMedium Intensity = "Medium"
	IntensityHigh   Intensity = "High"
)

// ChunkMinutes returns the maximum chunk size for the intensity.
func (i Intensity) ChunkMinutes() (int, error) {
	switch i {
	case IntensityHigh:
		return 60, nil
	case IntensityMedium:
		return 45, nil
	case IntensityLow:
		return 30, nil
	}
	return 0, fmt.Errorf("unknown intensity %q", string(i))
}

// Commitment is a fixed block that repeats every week on Days.
// A commitment with neither Start nor End set blocks nothing.
type Commitment struct {
	Title string         `json:"title"`
	Days  []time.Weekday `json:"daysOfWeek"`
	Start *Clock         `json:"startTime,omitempty"`
	End   *Clock         `json:"endTime,omitempty"`
}

type Phase struct {
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
	Intensity       Intensity `json:"intensity"`
}

type Assignment struct {
	Title   string  `json:"title"`
	DueDate *Date   `json:"due_date"`
	Phases  []Phase `json:"phases"`
}

// Interval is a half-open span of time [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps reports whether the two intervals share any instant.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

type EventMetadata struct {
	Assignment string `json:"assignment"`
	Phase      string `json:"phase"`
}

// Event is one placed chunk of work.
type Event struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Metadata EventMetadata `json:"metadata"`
}

func (e Event) Minutes() int {
	return int(e.End.Sub(e.Start) / time.Minute)
}

// DroppedChunk is a chunk for which no free slot ended before its cutoff.
type DroppedChunk struct {
	Assignment string    `json:"assignment"`
	Phase      string    `json:"phase"`
	Minutes    int       `json:"minutes"`
	Cutoff     time.Time `json:"cutoff"`
}

// Result is the outcome of one planning pass. Events are in placement order.
type Result struct {
	Events           []Event        `json:"events"`
	Dropped          []DroppedChunk `json:"dropped"`
	Free             []Interval     `json:"free"`
	PlannedMinutes   int            `json:"planned_minutes"`
	ScheduledMinutes int            `json:"scheduled_minutes"`
}

// Complete reports whether every planned chunk was placed.
func (r *Result) Complete() bool {
	return len(r.Dropped) == 0
}
