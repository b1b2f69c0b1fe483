// Package planner places assignment work around weekly commitments inside a
// bounded scheduling window.
//
// A planning pass expands commitments into dated busy intervals, merges
// them, derives the free slots of the window and then walks every chunk of
// every phase, putting each into the earliest free slot that can hold it
// and that ends before the assignment's cutoff. Chunks that fit nowhere are
// reported in Result.Dropped; they never fail the pass.
package planner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"
)

// Order selects the sequence in which chunks claim free time.
type Order string

const (
	// OrderFIFO places assignments in input order, phases in order, chunks
	// in order. An earlier assignment claims earlier time even when a later
	// one is due sooner.
	OrderFIFO Order = "fifo"
	// OrderDeadline places chunks by ascending cutoff, keeping input order
	// among chunks with the same cutoff.
	OrderDeadline Order = "deadline"
)

func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case "", OrderFIFO:
		return OrderFIFO, nil
	case OrderDeadline:
		return OrderDeadline, nil
	}
	return "", fmt.Errorf("unknown placement order %q (want fifo or deadline)", s)
}

// Limits bound the work a single pass may do.
type Limits struct {
	MaxWindow time.Duration
	MaxChunks int
}

func DefaultLimits() Limits {
	return Limits{
		MaxWindow: 31 * 24 * time.Hour,
		MaxChunks: 5000,
	}
}

type Options struct {
	Order  Order
	Limits Limits
}

// OffHours blocks every night from Close until Open the next morning.
type OffHours struct {
	Open  Clock `json:"open"`
	Close Clock `json:"close"`
}

// Request carries everything a planning pass needs. Busy holds one-off
// blocked intervals such as imported calendar events or a previous plan.
type Request struct {
	Window      Window       `json:"window"`
	Commitments []Commitment `json:"commitments"`
	Assignments []Assignment `json:"assignments"`
	Busy        []Interval   `json:"busy,omitempty"`
	OffHours    *OffHours    `json:"off_hours,omitempty"`
}

// Planner runs planning passes. It holds no per-call state and is safe for
// concurrent use.
type Planner struct {
	order  Order
	limits Limits
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Order == "" {
		opts.Order = OrderFIFO
	}
	defaults := DefaultLimits()
	if opts.Limits.MaxWindow <= 0 {
		opts.Limits.MaxWindow = defaults.MaxWindow
	}
	if opts.Limits.MaxChunks <= 0 {
		opts.Limits.MaxChunks = defaults.MaxChunks
	}
	return &Planner{order: opts.Order, limits: opts.Limits, logger: logger}
}

// Plan places the request's assignments into the free time of its window.
// Structural problems in the request fail the call before anything is
// placed; chunks that cannot be placed are returned in Result.Dropped.
func (p *Planner) Plan(ctx context.Context, req Request) (*Result, error) {
	if err := req.Window.Validate(); err != nil {
		return nil, err
	}
	if span := req.Window.End.Sub(req.Window.Start); span > p.limits.MaxWindow {
		return nil, fmt.Errorf("%w: %s > %s", ErrWindowTooLong, span, p.limits.MaxWindow)
	}
	if err := validateAssignments(req.Assignments); err != nil {
		return nil, err
	}
	for i, b := range req.Busy {
		if !b.End.After(b.Start) {
			return nil, &InputError{Field: fmt.Sprintf("busy[%d]", i), Reason: "end must be after start"}
		}
	}

	commitments := req.Commitments
	if req.OffHours != nil {
		commitments = append(slices.Clone(commitments), offHoursCommitment(req.OffHours.Open, req.OffHours.Close))
	}
	busy, err := ExpandCommitments(commitments, req.Window)
	if err != nil {
		return nil, err
	}
	busy = append(busy, req.Busy...)

	merged := MergeIntervals(busy)
	free := FreeSlots(req.Window, merged)

	chunks, planned, err := p.enumerate(req)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("planning pass",
		"window_start", req.Window.Start,
		"window_end", req.Window.End,
		"busy", len(merged),
		"free_slots", len(free),
		"chunks", len(chunks),
		"order", p.order,
	)

	alloc := newAllocator(free)
	result := &Result{PlannedMinutes: planned}
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a := req.Assignments[c.assignment]
		phase := a.Phases[c.phase]
		slot, ok := alloc.place(c.minutes, c.cutoff)
		if !ok {
			p.logger.Warn("could not place chunk",
				"assignment", a.Title,
				"phase", phase.Title,
				"minutes", c.minutes,
				"cutoff", c.cutoff,
			)
			result.Dropped = append(result.Dropped, DroppedChunk{
				Assignment: a.Title,
				Phase:      phase.Title,
				Minutes:    c.minutes,
				Cutoff:     c.cutoff,
			})
			continue
		}

		result.Events = append(result.Events, Event{
			ID:    eventID(c, a, slot.Start),
			Title: a.Title + " - " + phase.Title,
			Start: slot.Start,
			End:   slot.End,
			Metadata: EventMetadata{
				Assignment: a.Title,
				Phase:      phase.Title,
			},
		})
		result.ScheduledMinutes += c.minutes
	}
	result.Free = alloc.remaining()

	p.logger.Debug("planning pass finished",
		"events", len(result.Events),
		"dropped", len(result.Dropped),
		"planned_minutes", result.PlannedMinutes,
		"scheduled_minutes", result.ScheduledMinutes,
	)
	return result, nil
}

// enumerate lists every chunk in placement order and the total planned minutes.
func (p *Planner) enumerate(req Request) ([]pendingChunk, int, error) {
	total := 0
	for _, a := range req.Assignments {
		for _, ph := range a.Phases {
			size, _ := ph.Intensity.ChunkMinutes()
			total += chunkCount(ph.DurationMinutes, size)
			if total > p.limits.MaxChunks {
				return nil, 0, fmt.Errorf("%w: more than %d", ErrTooManyChunks, p.limits.MaxChunks)
			}
		}
	}

	chunks := make([]pendingChunk, 0, total)
	planned := 0
	for ai, a := range req.Assignments {
		cutoff := req.Window.Cutoff(a.DueDate)
		for pi, ph := range a.Phases {
			sizes, err := PlanChunks(ph)
			if err != nil {
				return nil, 0, err
			}
			for ci, m := range sizes {
				chunks = append(chunks, pendingChunk{
					assignment: ai,
					phase:      pi,
					index:      ci,
					minutes:    m,
					cutoff:     cutoff,
				})
				planned += m
			}
		}
	}

	if p.order == OrderDeadline {
		slices.SortStableFunc(chunks, func(a, b pendingChunk) int {
			return a.cutoff.Compare(b.cutoff)
		})
	}
	return chunks, planned, nil
}

func validateAssignments(assignments []Assignment) error {
	for i, a := range assignments {
		if a.Title == "" {
			return &InputError{Field: fmt.Sprintf("assignments[%d].title", i), Reason: "must not be empty"}
		}
		for j, ph := range a.Phases {
			field := fmt.Sprintf("assignments[%d].phases[%d]", i, j)
			if ph.Title == "" {
				return &InputError{Field: field + ".title", Reason: "must not be empty"}
			}
			if ph.DurationMinutes <= 0 {
				return &InputError{Field: field + ".duration_minutes", Reason: fmt.Sprintf("must be positive, got %d", ph.DurationMinutes)}
			}
			if _, err := ph.Intensity.ChunkMinutes(); err != nil {
				return &InputError{Field: field + ".intensity", Reason: err.Error()}
			}
		}
	}
	return nil
}
