package msgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/auraplan/aura/internal/calendar"
	"github.com/auraplan/aura/internal/planner"
)

const (
	graphBaseURL = "https://graph.microsoft.com/v1.0"
	maxRetries   = 3
)

// Client reads busy time from and writes planned events to the signed-in
// user's default calendar.
type Client struct {
	BaseURL string

	auth        *Auth
	httpClient  *http.Client
	backoffBase time.Duration
	logger      *slog.Logger
}

func NewClient(auth *Auth, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		BaseURL: graphBaseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoffBase: time.Second,
		logger:      logger,
	}
}

type calendarViewResponse struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type graphEvent struct {
	ID            string        `json:"id,omitempty"`
	Subject       string        `json:"subject"`
	Body          *graphBody    `json:"body,omitempty"`
	Start         graphDateTime `json:"start"`
	End           graphDateTime `json:"end"`
	ShowAs        string        `json:"showAs,omitempty"`
	Categories    []string      `json:"categories,omitempty"`
	IsCancelled   bool          `json:"isCancelled,omitempty"`
	IsAllDay      bool          `json:"isAllDay,omitempty"`
	TransactionID string        `json:"transactionId,omitempty"` // makes creation idempotent
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// FetchEvents returns the events overlapping [start, end). Cancelled and
// all-day events are skipped; events shown as free are marked transparent.
func (c *Client) FetchEvents(ctx context.Context, start, end time.Time) ([]calendar.Event, error) {
	params := url.Values{
		"startDateTime": {start.UTC().Format("2006-01-02T15:04:05")},
		"endDateTime":   {end.UTC().Format("2006-01-02T15:04:05")},
		"$select":       {"subject,start,end,isCancelled,isAllDay,showAs"},
		"$top":          {"100"},
		"$orderby":      {"start/dateTime"},
	}

	next := c.BaseURL + "/me/calendarView?" + params.Encode()
	var all []calendar.Event
	for next != "" {
		var page calendarViewResponse
		if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, ge := range page.Value {
			if ge.IsCancelled || ge.IsAllDay {
				continue
			}
			s, err := parseGraphDateTime(ge.Start)
			if err != nil {
				c.logger.Debug("skipping event with unparseable start time", "subject", ge.Subject, "error", err)
				continue
			}
			e, err := parseGraphDateTime(ge.End)
			if err != nil {
				c.logger.Debug("skipping event with unparseable end time", "subject", ge.Subject, "error", err)
				continue
			}
			all = append(all, calendar.Event{
				Summary:     ge.Subject,
				Start:       s,
				End:         e,
				Transparent: ge.ShowAs == "free",
			})
		}
		next = page.NextLink
	}

	c.logger.Debug("graph calendar events fetched", "count", len(all))
	return all, nil
}

// CreateEvent adds a planned event to the calendar and returns its Graph id.
func (c *Client) CreateEvent(ctx context.Context, e planner.Event) (string, error) {
	payload := graphEvent{
		Subject: e.Title,
		Body: &graphBody{
			ContentType: "text",
			Content:     fmt.Sprintf("Assignment: %s\nPhase: %s", e.Metadata.Assignment, e.Metadata.Phase),
		},
		Start:         graphDateTime{DateTime: e.Start.UTC().Format("2006-01-02T15:04:05"), TimeZone: "UTC"},
		End:           graphDateTime{DateTime: e.End.UTC().Format("2006-01-02T15:04:05"), TimeZone: "UTC"},
		ShowAs:        "busy",
		Categories:    []string{"Study"},
		TransactionID: e.ID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding event: %w", err)
	}

	var created graphEvent
	if err := c.do(ctx, http.MethodPost, c.BaseURL+"/me/events", body, &created); err != nil {
		return "", fmt.Errorf("creating event %s: %w", e.ID, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("graph did not return an id for event %s", e.ID)
	}
	c.logger.Debug("graph event created", "event", e.ID, "graph_id", created.ID)
	return created.ID, nil
}

// do sends one Graph request, retrying on transport errors, 429 and 5xx
// with exponential backoff, and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, method, requestURL string, body []byte, out any) error {
	token, err := c.auth.EnsureValidToken(ctx)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
		if err != nil {
			return fmt.Errorf("creating graph request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Prefer", `outlook.timezone="UTC"`)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("graph API request failed: %w", err)
			}
			if err := c.wait(ctx, c.backoff(attempt, "")); err != nil {
				return err
			}
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("reading graph response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if attempt == maxRetries {
				return fmt.Errorf("graph API returned status %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.logger.Debug("graph API retrying", "status", resp.StatusCode, "attempt", attempt+1)
			if err := c.wait(ctx, c.backoff(attempt, resp.Header.Get("Retry-After"))); err != nil {
				return err
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("graph API error (status %d): %s", resp.StatusCode, truncateStr(string(data), 200))
		}

		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("parsing graph response: %w", err)
			}
		}
		return nil
	}
}

// backoff honors a Retry-After header in seconds and otherwise doubles
// the base delay per attempt.
func (c *Client) backoff(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return c.backoffBase << attempt
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseGraphDateTime(gdt graphDateTime) (time.Time, error) {
	loc := time.UTC
	if gdt.TimeZone != "" && gdt.TimeZone != "UTC" {
		if l, err := time.LoadLocation(gdt.TimeZone); err == nil {
			loc = l
		}
	}

	// Graph returns seven fractional digits, but not always.
	for _, layout := range []string{
		"2006-01-02T15:04:05.0000000",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, gdt.DateTime, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime %q", gdt.DateTime)
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
