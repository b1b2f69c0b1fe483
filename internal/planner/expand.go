package planner

import (
	"fmt"
	"slices"
	"time"
)

// ExpandCommitments turns weekly commitments into dated busy intervals for
// every calendar date the window touches. A block whose end clock precedes
// its start clock runs past midnight into the next day. Output order is
// unspecified.
func ExpandCommitments(commitments []Commitment, w Window) ([]Interval, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateCommitments(commitments); err != nil {
		return nil, err
	}

	var busy []Interval
	for _, day := range w.Days() {
		for _, c := range commitments {
			if c.Start == nil || !slices.Contains(c.Days, day.Weekday()) {
				continue
			}
			start := c.Start.On(day)
			end := c.End.On(day)
			if end.Before(start) {
				end = end.AddDate(0, 0, 1)
			}
			busy = append(busy, Interval{Start: start, End: end})
		}
	}
	return busy, nil
}

// ValidateCommitments reports the first structural problem as an
// *InputError naming the offending field.
func ValidateCommitments(commitments []Commitment) error {
	for i, c := range commitments {
		if err := validateCommitment(c); err != nil {
			err.Field = fmt.Sprintf("commitments[%d].%s", i, err.Field)
			return err
		}
	}
	return nil
}

func validateCommitment(c Commitment) *InputError {
	if c.Title == "" {
		return &InputError{Field: "title", Reason: "must not be empty"}
	}
	if (c.Start == nil) != (c.End == nil) {
		return &InputError{Field: "startTime", Reason: "startTime and endTime must be given together"}
	}
	for _, d := range c.Days {
		if d < time.Sunday || d > time.Saturday {
			return &InputError{Field: "daysOfWeek", Reason: fmt.Sprintf("weekday %d out of range 0..6", int(d))}
		}
	}
	if err := validateClock("startTime", c.Start); err != nil {
		return err
	}
	return validateClock("endTime", c.End)
}

func validateClock(field string, clk *Clock) *InputError {
	if clk == nil {
		return nil
	}
	if clk.Hour < 0 || clk.Hour > 23 || clk.Minute < 0 || clk.Minute > 59 {
		return &InputError{Field: field, Reason: fmt.Sprintf("clock %s out of range", clk)}
	}
	return nil
}

// offHoursCommitment blocks every day from close until open the next
// morning, so work is only placed during waking hours.
func offHoursCommitment(open, close Clock) Commitment {
	return Commitment{
		Title: "off hours",
		Days:  []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
		Start: &close,
		End:   &open,
	}
}
