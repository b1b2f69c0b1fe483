package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/auraplan/aura/internal/planner"
)

// Plan is a saved planning result.
type Plan struct {
	ID               int64                  `json:"id"`
	UserID           string                 `json:"user"`
	Window           planner.Window         `json:"window"`
	PlannedMinutes   int                    `json:"planned_minutes"`
	ScheduledMinutes int                    `json:"scheduled_minutes"`
	Dropped          []planner.DroppedChunk `json:"dropped"`
	Events           []PlanEvent            `json:"events"`
	CreatedAt        time.Time              `json:"created_at"`
}

// PlanEvent is a saved event plus the id it received from a remote
// calendar, if it was synced.
type PlanEvent struct {
	planner.Event
	SyncedID string `json:"synced_id,omitempty"`
}

// Unsynced returns the events that have not been pushed to a remote calendar.
func (p *Plan) Unsynced() []planner.Event {
	var events []planner.Event
	for _, e := range p.Events {
		if e.SyncedID == "" {
			events = append(events, e.Event)
		}
	}
	return events
}

// PlannerEvents returns the plan's events without sync bookkeeping.
func (p *Plan) PlannerEvents() []planner.Event {
	events := make([]planner.Event, len(p.Events))
	for i, e := range p.Events {
		events[i] = e.Event
	}
	return events
}

// Busy returns the plan's events as busy intervals.
func (p *Plan) Busy() []planner.Interval {
	busy := make([]planner.Interval, len(p.Events))
	for i, e := range p.Events {
		busy[i] = planner.Interval{Start: e.Start, End: e.End}
	}
	return busy
}

func (db *DB) SavePlan(userID string, w planner.Window, res *planner.Result) (int64, error) {
	dropped, err := json.Marshal(res.Dropped)
	if err != nil {
		return 0, fmt.Errorf("encoding dropped chunks: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO plans (user_id, window_start, window_end, timezone, planned_minutes, scheduled_minutes, dropped)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, formatTime(w.Start), formatTime(w.End), w.Start.Location().String(),
		res.PlannedMinutes, res.ScheduledMinutes, string(dropped),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting plan: %w", err)
	}
	planID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading plan id: %w", err)
	}

	for i, e := range res.Events {
		_, err := tx.Exec(
			`INSERT INTO plan_events (plan_id, position, event_id, title, assignment, phase, start_time, end_time)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			planID, i, e.ID, e.Title, e.Metadata.Assignment, e.Metadata.Phase,
			formatTime(e.Start), formatTime(e.End),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing plan: %w", err)
	}
	return planID, nil
}

// LatestPlan returns the most recently saved plan for the user, or nil if
// there is none.
func (db *DB) LatestPlan(userID string) (*Plan, error) {
	var (
		p                Plan
		startStr, endStr string
		tz               string
		droppedStr       string
		createdStr       string
	)
	err := db.QueryRow(
		`SELECT id, user_id, window_start, window_end, timezone, planned_minutes, scheduled_minutes, dropped, created_at
		 FROM plans
		 WHERE user_id = ?
		 ORDER BY id DESC
		 LIMIT 1`,
		userID,
	).Scan(&p.ID, &p.UserID, &startStr, &endStr, &tz, &p.PlannedMinutes, &p.ScheduledMinutes, &droppedStr, &createdStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying plan: %w", err)
	}

	loc := planLocation(tz)
	p.Window.Start = parseTime(startStr).In(loc)
	p.Window.End = parseTime(endStr).In(loc)
	p.CreatedAt = parseTime(createdStr)
	if err := json.Unmarshal([]byte(droppedStr), &p.Dropped); err != nil {
		return nil, fmt.Errorf("decoding dropped chunks: %w", err)
	}
	for i := range p.Dropped {
		p.Dropped[i].Cutoff = p.Dropped[i].Cutoff.In(loc)
	}

	events, err := db.planEvents(p.ID)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Start = events[i].Start.In(loc)
		events[i].End = events[i].End.In(loc)
	}
	p.Events = events
	return &p, nil
}

func (db *DB) planEvents(planID int64) ([]PlanEvent, error) {
	rows, err := db.Query(
		`SELECT event_id, title, assignment, phase, start_time, end_time, synced_id
		 FROM plan_events
		 WHERE plan_id = ?
		 ORDER BY position ASC`,
		planID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying plan events: %w", err)
	}
	defer rows.Close()

	var events []PlanEvent
	for rows.Next() {
		var e PlanEvent
		var startStr, endStr string
		var syncedID sql.NullString

		if err := rows.Scan(
			&e.ID, &e.Title, &e.Metadata.Assignment, &e.Metadata.Phase,
			&startStr, &endStr, &syncedID,
		); err != nil {
			return nil, fmt.Errorf("scanning plan event: %w", err)
		}

		e.Start = parseTime(startStr)
		e.End = parseTime(endStr)
		e.SyncedID = syncedID.String
		events = append(events, e)
	}

	return events, rows.Err()
}

// MarkSynced records the remote id an event was created under.
func (db *DB) MarkSynced(planID int64, eventID, remoteID string) error {
	_, err := db.Exec(
		"UPDATE plan_events SET synced_id = ? WHERE plan_id = ? AND event_id = ?",
		remoteID, planID, eventID,
	)
	return err
}

// SaveCommitments replaces the user's stored commitments.
func (db *DB) SaveCommitments(userID string, commitments []planner.Commitment) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM commitments WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing commitments: %w", err)
	}

	for i, c := range commitments {
		days := make([]string, len(c.Days))
		for j, d := range c.Days {
			days[j] = strconv.Itoa(int(d))
		}
		_, err := tx.Exec(
			`INSERT INTO commitments (user_id, position, title, days, start_time, end_time)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			userID, i, c.Title, strings.Join(days, ","), clockValue(c.Start), clockValue(c.End),
		)
		if err != nil {
			return fmt.Errorf("inserting commitment %q: %w", c.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing commitments: %w", err)
	}
	return nil
}

func (db *DB) Commitments(userID string) ([]planner.Commitment, error) {
	rows, err := db.Query(
		`SELECT title, days, start_time, end_time
		 FROM commitments
		 WHERE user_id = ?
		 ORDER BY position ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying commitments: %w", err)
	}
	defer rows.Close()

	var commitments []planner.Commitment
	for rows.Next() {
		var c planner.Commitment
		var days string
		var start, end sql.NullString

		if err := rows.Scan(&c.Title, &days, &start, &end); err != nil {
			return nil, fmt.Errorf("scanning commitment: %w", err)
		}

		for _, d := range strings.Split(days, ",") {
			if d == "" {
				continue
			}
			n, err := strconv.Atoi(d)
			if err != nil {
				return nil, fmt.Errorf("commitment %q has bad weekday %q", c.Title, d)
			}
			c.Days = append(c.Days, time.Weekday(n))
		}
		if c.Start, err = parseClock(start); err != nil {
			return nil, err
		}
		if c.End, err = parseClock(end); err != nil {
			return nil, err
		}
		commitments = append(commitments, c)
	}

	return commitments, rows.Err()
}

func clockValue(c *planner.Clock) any {
	if c == nil {
		return nil
	}
	return c.String()
}

func parseClock(s sql.NullString) (*planner.Clock, error) {
	if !s.Valid {
		return nil, nil
	}
	c, err := planner.ParseClock(s.String)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// planLocation resolves the zone a plan was made in. Plans saved without
// one, or with a zone this machine does not know, come back in UTC.
func planLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
