package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/auraplan/aura/internal/msgraph"
	"github.com/auraplan/aura/internal/notify"
	"github.com/auraplan/aura/internal/planner"
	"github.com/auraplan/aura/internal/server"
)

const lastSyncKey = "last_sync"

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push unsynced events of your latest plan to Outlook",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Microsoft calendar connection",
}

var calendarAuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in to Microsoft Graph with a device code",
	Args:  cobra.NoArgs,
	RunE:  runCalendarAuth,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the planning HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from config)")

	calendarCmd.AddCommand(calendarAuthCmd)

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(calendarCmd)
	rootCmd.AddCommand(serveCmd)
}

func newGraphAuth(e *env) (*msgraph.Auth, error) {
	if e.cfg.Calendar.Graph.ClientID == "" {
		return nil, fmt.Errorf("calendar.graph.client_id not configured, run 'aura config' to set it up")
	}
	tokens, err := msgraph.DefaultTokenStore(e.user)
	if err != nil {
		return nil, err
	}
	return msgraph.NewAuth(e.cfg.Calendar.Graph.ClientID, e.cfg.Calendar.Graph.TenantID, tokens, e.logger), nil
}

func newGraphClient(e *env) (*msgraph.Client, error) {
	auth, err := newGraphAuth(e)
	if err != nil {
		return nil, err
	}
	return msgraph.NewClient(auth, e.logger), nil
}

func runSync(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	client, err := newGraphClient(e)
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
	pending := plan.Unsynced()
	if len(pending) == 0 {
		fmt.Println("Everything is already synced.")
		return nil
	}

	synced, err := pushEvents(cmd.Context(), os.Stdout, pending, client.CreateEvent, func(eventID, remoteID string) error {
		return db.MarkSynced(plan.ID, eventID, remoteID)
	})
	if err != nil {
		return err
	}

	if err := db.SetState(e.user, lastSyncKey, time.Now().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}
	fmt.Printf("Synced %d of %d events.\n", synced, len(pending))
	notify.New(e.cfg.Notifications.Enabled, e.logger).Synced(synced)

	if synced < len(pending) {
		return fmt.Errorf("%d events failed to sync", len(pending)-synced)
	}
	return nil
}

// pushEvents creates each event remotely and records its remote id. A
// failed event is reported and skipped; cancellation stops the run.
func pushEvents(
	ctx context.Context,
	w io.Writer,
	events []planner.Event,
	create func(context.Context, planner.Event) (string, error),
	mark func(eventID, remoteID string) error,
) (int, error) {
	synced := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return synced, fmt.Errorf("sync interrupted after %d of %d events: %w", synced, len(events), err)
		}
		remoteID, err := create(ctx, ev)
		if err != nil {
			if ctx.Err() != nil {
				return synced, fmt.Errorf("sync interrupted after %d of %d events: %w", synced, len(events), ctx.Err())
			}
			fmt.Fprintf(w, "Warning: failed to sync %s at %s: %v\n", ev.Title, ev.Start.Format("Mon 15:04"), err)
			continue
		}
		if err := mark(ev.ID, remoteID); err != nil {
			return synced, fmt.Errorf("recording synced event: %w", err)
		}
		synced++
	}
	return synced, nil
}

func runCalendarAuth(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	auth, err := newGraphAuth(e)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	dc, err := auth.StartDeviceCodeFlow(ctx)
	if err != nil {
		return err
	}
	fmt.Println(dc.Message)

	if _, err := auth.PollForToken(ctx, dc.DeviceCode, dc.Interval); err != nil {
		return err
	}
	fmt.Printf("Signed in. Tokens saved for %s.\n", e.user)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	e, err := loadEnv()
	if err != nil {
		return err
	}
	if addr != "" {
		e.cfg.Server.Addr = addr
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	return server.New(e.cfg, db, e.logger).ListenAndServe(cmd.Context())
}

func chronological(events []planner.Event) []planner.Event {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b planner.Event) int {
		return a.Start.Compare(b.Start)
	})
	return sorted
}
