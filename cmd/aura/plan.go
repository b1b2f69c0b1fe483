package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/auraplan/aura/internal/calendar"
	"github.com/auraplan/aura/internal/intake"
	"github.com/auraplan/aura/internal/notify"
	"github.com/auraplan/aura/internal/planner"
	"github.com/auraplan/aura/internal/store"
	"github.com/auraplan/aura/internal/tui"
)

var planCmd = &cobra.Command{
	Use:   "plan ASSIGNMENTS.json",
	Short: "Schedule assignments into the free time of a window",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show your latest plan",
	Args:  cobra.NoArgs,
	RunE:  runShow,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export your latest plan as iCalendar",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	planCmd.Flags().String("start", "", "first day of the window, YYYY-MM-DD (default today)")
	planCmd.Flags().Int("days", 0, "window length in days (default from config)")
	planCmd.Flags().String("ics", "", "also write the plan as iCalendar to this file")
	planCmd.Flags().String("calendar", "", `busy time source: "graph", an ICS URL or file (default from config)`)
	planCmd.Flags().Bool("keep-previous", false, "treat events of your latest plan as busy")
	planCmd.Flags().String("order", "", "placement order: fifo or deadline (default from config)")
	planCmd.Flags().Bool("review", false, "review the plan in a TUI before saving")

	exportCmd.Flags().StringP("output", "o", "", "write here instead of stdout")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	startFlag, _ := cmd.Flags().GetString("start")
	days, _ := cmd.Flags().GetInt("days")
	icsPath, _ := cmd.Flags().GetString("ics")
	source, _ := cmd.Flags().GetString("calendar")
	keepPrevious, _ := cmd.Flags().GetBool("keep-previous")
	orderFlag, _ := cmd.Flags().GetString("order")
	review, _ := cmd.Flags().GetBool("review")

	e, err := loadEnv()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	loc, err := e.cfg.Location()
	if err != nil {
		return err
	}
	anchor := time.Now().In(loc)
	if startFlag != "" {
		d, err := planner.ParseDate(startFlag)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		anchor = d.At(planner.Clock{Hour: 12}, loc)
	}
	window, err := e.cfg.BuildWindow(anchor, days)
	if err != nil {
		return fmt.Errorf("building window: %w", err)
	}

	opts := e.cfg.PlannerOptions()
	if orderFlag != "" {
		if opts.Order, err = planner.ParseOrder(orderFlag); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	assignments, issues, err := intake.ParseAssignments(data, anchor)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}
	for _, is := range issues {
		fmt.Fprintf(os.Stderr, "skipped %s\n", is)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	commitments, err := db.Commitments(e.user)
	if err != nil {
		return fmt.Errorf("loading commitments: %w", err)
	}

	if source == "" {
		source = e.cfg.Calendar.Source
	}
	busy, err := fetchBusy(ctx, e, source, window)
	if err != nil {
		return err
	}
	if keepPrevious {
		prev, err := db.LatestPlan(e.user)
		if err != nil {
			return fmt.Errorf("loading previous plan: %w", err)
		}
		if prev != nil {
			busy = append(busy, prev.Busy()...)
		}
	}

	req := planner.Request{
		Window:      window,
		Commitments: commitments,
		Assignments: assignments,
		Busy:        busy,
		OffHours:    e.cfg.OffHours(),
	}
	runPlanner := func(ctx context.Context, order planner.Order) (*planner.Result, error) {
		o := opts
		o.Order = order
		return planner.New(o, e.logger).Plan(ctx, req)
	}

	res, err := runPlanner(ctx, opts.Order)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}

	if review {
		app := tui.NewReviewApp(window, res, opts.Order, runPlanner)
		if _, err := tea.NewProgram(app).Run(); err != nil {
			return fmt.Errorf("running TUI: %w", err)
		}
		d := app.Decision()
		if d == nil || !d.Accepted {
			fmt.Println("Plan discarded.")
			return nil
		}
		res = d.Result
	} else {
		printPlan(os.Stdout, window, res.Events, res.Dropped, res.PlannedMinutes, res.ScheduledMinutes)
	}

	planID, err := db.SavePlan(e.user, window, res)
	if err != nil {
		return fmt.Errorf("saving plan: %w", err)
	}
	e.logger.Debug("plan saved", "plan_id", planID, "user", e.user)

	if icsPath != "" {
		if err := writeICS(icsPath, res.Events, commitments, window); err != nil {
			return err
		}
	}

	if len(res.Dropped) > 0 {
		notify.New(e.cfg.Notifications.Enabled, e.logger).
			Dropped(len(res.Dropped), res.PlannedMinutes-res.ScheduledMinutes)
	}
	return nil
}

// fetchBusy reads busy time for the window from an ICS feed or Microsoft
// Graph. An empty source means no external calendar.
func fetchBusy(ctx context.Context, e *env, source string, window planner.Window) ([]planner.Interval, error) {
	if source == "" {
		return nil, nil
	}

	var events []calendar.Event
	var err error
	if source == "graph" {
		client, cerr := newGraphClient(e)
		if cerr != nil {
			return nil, cerr
		}
		events, err = client.FetchEvents(ctx, window.Start, window.End)
	} else {
		events, err = calendar.Fetch(ctx, source, window.Start, window.End)
	}
	if err != nil {
		return nil, fmt.Errorf("reading calendar: %w", err)
	}
	e.logger.Debug("calendar events", "source", source, "count", len(events))
	return calendar.BusyIntervals(events), nil
}

func runShow(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	plan, err := latestPlan(db, e.user)
	if err != nil {
		return err
	}
	fmt.Printf("Plan #%d, created %s\n", plan.ID, plan.CreatedAt.Local().Format("Mon Jan 2 15:04"))
	printPlan(os.Stdout, plan.Window, plan.PlannerEvents(), plan.Dropped, plan.PlannedMinutes, plan.ScheduledMinutes)

	unsynced := len(plan.Unsynced())
	lastSync, err := db.GetState(e.user, lastSyncKey)
	if err != nil {
		return fmt.Errorf("reading sync state: %w", err)
	}
	switch {
	case lastSync != "":
		fmt.Printf("\n%d events not synced (last sync %s)\n", unsynced, lastSync)
	case unsynced > 0:
		fmt.Printf("\n%d events not synced\n", unsynced)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")

	e, err := loadEnv()
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	plan, err := latestPlan(db, e.user)
	if err != nil {
		return err
	}
	commitments, err := db.Commitments(e.user)
	if err != nil {
		return fmt.Errorf("loading commitments: %w", err)
	}

	if output == "" {
		return calendar.Render(os.Stdout, plan.PlannerEvents(), commitments, plan.Window, time.Now())
	}
	return writeICS(output, plan.PlannerEvents(), commitments, plan.Window)
}

func latestPlan(db *store.DB, user string) (*store.Plan, error) {
	plan, err := db.LatestPlan(user)
	if err != nil {
		return nil, fmt.Errorf("loading plan: %w", err)
	}
	if plan == nil {
		return nil, fmt.Errorf("no plan yet for %s, run 'aura plan' first", user)
	}
	return plan, nil
}

func writeICS(path string, events []planner.Event, commitments []planner.Commitment, window planner.Window) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := calendar.Render(f, events, commitments, window, time.Now()); err != nil {
		f.Close()
		return fmt.Errorf("rendering calendar: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}

func printPlan(w io.Writer, window planner.Window, events []planner.Event, dropped []planner.DroppedChunk, planned, scheduled int) {
	fmt.Fprintf(w, "Window %s - %s\n\n",
		window.Start.Format("Mon Jan 2 15:04"), window.End.Format("Mon Jan 2 15:04"))

	if len(events) == 0 {
		fmt.Fprintln(w, "Nothing scheduled.")
	}
	var day planner.Date
	for i, ev := range chronological(events) {
		if d := planner.DateOf(ev.Start); i == 0 || d != day {
			day = d
			fmt.Fprintf(w, "%s\n", ev.Start.Format("Monday Jan 2"))
		}
		fmt.Fprintf(w, "  %s-%s  %s\n", ev.Start.Format("15:04"), ev.End.Format("15:04"), ev.Title)
	}

	if len(dropped) > 0 {
		fmt.Fprintf(w, "\nDid not fit (%d):\n", len(dropped))
		for _, d := range dropped {
			fmt.Fprintf(w, "  %s - %s  %d min  (before %s)\n",
				d.Assignment, d.Phase, d.Minutes, d.Cutoff.Format("Mon Jan 2 15:04"))
		}
	}

	hours, mins := scheduled/60, scheduled%60
	fmt.Fprintf(w, "\nScheduled %dh %dmin of %d min planned (%d events)\n", hours, mins, planned, len(events))
}
