package msgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/auraplan/aura/internal/planner"
)

func newTestAuth(t *testing.T, loginURL string) *Auth {
	t.Helper()
	a := NewAuth("client-1", "tenant-1", NewTokenStore(filepath.Join(t.TempDir(), "tokens.json")), nil)
	a.LoginURL = loginURL
	a.pollUnit = time.Millisecond
	return a
}

func TestTokenStoreRoundTrip(t *testing.T) {
	store := NewTokenStore(filepath.Join(t.TempDir(), "nested", "ana.json"))
	if tok, err := store.Load(); err != nil || tok != nil {
		t.Fatalf("Load on missing file = %v, %v", tok, err)
	}
	want := &TokenData{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second)}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.AccessToken != "a" || !got.ExpiresAt.Equal(want.ExpiresAt) || got.IsExpired() {
		t.Errorf("loaded %+v", got)
	}
}

func TestDeviceCodeFlow(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		switch r.URL.Path {
		case "/tenant-1/oauth2/v2.0/devicecode":
			if r.Form.Get("scope") != defaultScope {
				t.Errorf("scope = %q", r.Form.Get("scope"))
			}
			fmt.Fprint(w, `{"device_code":"dev","user_code":"ABCD","verification_uri":"https://example.test","interval":1}`)
		case "/tenant-1/oauth2/v2.0/token":
			if polls.Add(1) < 3 {
				fmt.Fprint(w, `{"error":"authorization_pending"}`)
				return
			}
			fmt.Fprint(w, `{"access_token":"at","refresh_token":"rt","expires_in":3600}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := newTestAuth(t, srv.URL)
	dc, err := a.StartDeviceCodeFlow(context.Background())
	if err != nil {
		t.Fatalf("StartDeviceCodeFlow: %v", err)
	}
	if dc.UserCode != "ABCD" {
		t.Errorf("user code = %q", dc.UserCode)
	}

	tokens, err := a.PollForToken(context.Background(), dc.DeviceCode, dc.Interval)
	if err != nil {
		t.Fatalf("PollForToken: %v", err)
	}
	if tokens.AccessToken != "at" || polls.Load() != 3 {
		t.Errorf("tokens = %+v after %d polls", tokens, polls.Load())
	}

	token, err := a.EnsureValidToken(context.Background())
	if err != nil || token != "at" {
		t.Errorf("EnsureValidToken = %q, %v", token, err)
	}
}

func TestEnsureValidTokenRefreshes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "old-rt" {
			t.Errorf("unexpected refresh form %v", r.Form)
		}
		fmt.Fprint(w, `{"access_token":"fresh","expires_in":3600}`)
	}))
	defer srv.Close()

	a := newTestAuth(t, srv.URL)
	if _, err := a.EnsureValidToken(context.Background()); err == nil {
		t.Fatal("EnsureValidToken without tokens succeeded")
	}

	a.tokens.Save(&TokenData{AccessToken: "stale", RefreshToken: "old-rt", ExpiresAt: time.Now().Add(-time.Minute)})
	token, err := a.EnsureValidToken(context.Background())
	if err != nil || token != "fresh" {
		t.Fatalf("EnsureValidToken = %q, %v", token, err)
	}
	saved, _ := a.tokens.Load()
	if saved.AccessToken != "fresh" || saved.RefreshToken != "old-rt" {
		t.Errorf("saved tokens = %+v", saved)
	}
}

func newTestClient(t *testing.T, graph http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(graph)
	t.Cleanup(srv.Close)

	a := newTestAuth(t, "http://unused.invalid")
	a.tokens.Save(&TokenData{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour)})

	c := NewClient(a, nil)
	c.BaseURL = srv.URL
	c.backoffBase = time.Millisecond
	return c
}

func TestFetchEventsPagesAndRetries(t *testing.T) {
	var calls atomic.Int32
	var base string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		n := calls.Add(1)
		switch {
		case n == 1:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		case r.URL.Query().Get("page") == "":
			fmt.Fprintf(w, `{"value":[
				{"subject":"Standup","start":{"dateTime":"2024-01-01T09:00:00.0000000","timeZone":"UTC"},"end":{"dateTime":"2024-01-01T09:30:00.0000000","timeZone":"UTC"}},
				{"subject":"Cancelled","isCancelled":true,"start":{"dateTime":"2024-01-01T10:00:00","timeZone":"UTC"},"end":{"dateTime":"2024-01-01T11:00:00","timeZone":"UTC"}}
			],"@odata.nextLink":"%s/me/calendarView?page=2"}`, base)
		default:
			fmt.Fprint(w, `{"value":[
				{"subject":"Focus","showAs":"free","start":{"dateTime":"2024-01-02T13:00:00","timeZone":"UTC"},"end":{"dateTime":"2024-01-02T14:00:00","timeZone":"UTC"}}
			]}`)
		}
	}))
	base = c.BaseURL

	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	events, err := c.FetchEvents(context.Background(), start, start.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Summary != "Standup" || events[0].End.Sub(events[0].Start) != 30*time.Minute || events[0].Transparent {
		t.Errorf("first event = %+v", events[0])
	}
	if !events[1].Transparent {
		t.Error("free event not marked transparent")
	}
	if calls.Load() != 3 {
		t.Errorf("graph called %d times, want 3", calls.Load())
	}
}

func TestFetchEventsGivesUp(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	_, err := c.FetchEvents(context.Background(), time.Now(), time.Now().Add(time.Hour))
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("err = %v", err)
	}
	if calls.Load() != maxRetries+1 {
		t.Errorf("graph called %d times, want %d", calls.Load(), maxRetries+1)
	}
}

func TestCreateEvent(t *testing.T) {
	var got graphEvent
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/me/events" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"AAMk-1"}`)
	}))

	start := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))
	id, err := c.CreateEvent(context.Background(), planner.Event{
		ID:       "assign-123",
		Title:    "Essay - Draft",
		Start:    start,
		End:      start.Add(45 * time.Minute),
		Metadata: planner.EventMetadata{Assignment: "Essay", Phase: "Draft"},
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if id != "AAMk-1" {
		t.Errorf("id = %q", id)
	}
	if got.Subject != "Essay - Draft" || got.TransactionID != "assign-123" {
		t.Errorf("posted %+v", got)
	}
	if got.Start.DateTime != "2024-01-01T14:00:00" || got.Start.TimeZone != "UTC" {
		t.Errorf("start = %+v, want UTC", got.Start)
	}
}
