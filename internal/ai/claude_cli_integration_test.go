//go:build integration

package ai_test

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/auraplan/aura/internal/ai"
	"github.com/auraplan/aura/internal/intake"
)

func skipIfNoClaude(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("claude"); err != nil {
		t.Skip("claude CLI not found in PATH, skipping integration test")
	}
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

const syllabus = `CSE 611 Algorithms. Lectures Monday and Wednesday 10:00-11:15 in Davis 101.
Recitation Friday 14:00-14:50.

Homework 1 (proofs) is due 2030-02-07. Expect to spend a few hours on reading
and a couple more on writing up solutions.
Term project proposal due 2030-02-21.`

func TestClaudeCLI_ProposeCommitments(t *testing.T) {
	skipIfNoClaude(t)

	cli := ai.NewClaudeCLI("haiku", testLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	out, err := cli.ProposeCommitments(ctx, syllabus)
	if err != nil {
		t.Fatalf("ProposeCommitments failed: %v", err)
	}
	t.Logf("raw proposal: %s", out)

	commitments, issues, err := intake.ParseCommitments(out)
	if err != nil {
		t.Fatalf("ParseCommitments: %v", err)
	}
	for _, is := range issues {
		t.Logf("issue: %s", is)
	}
	if len(commitments) == 0 {
		t.Fatal("expected at least one commitment")
	}
	for i, c := range commitments {
		t.Logf("commitment[%d]: %q days=%v %v-%v", i, c.Title, c.Days, c.Start, c.End)
		if len(c.Days) == 0 {
			t.Errorf("commitment %q has no days", c.Title)
		}
	}
}

func TestClaudeCLI_ProposeAssignments_Streaming(t *testing.T) {
	skipIfNoClaude(t)

	cli := ai.NewClaudeCLI("haiku", testLogger(t))
	var chunks int
	cli.OnThinking = func(string) { chunks++ }

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	out, err := cli.ProposeAssignments(ctx, syllabus)
	if err != nil {
		t.Fatalf("ProposeAssignments failed: %v", err)
	}
	t.Logf("received %d streamed chunks", chunks)

	assignments, issues, err := intake.ParseAssignments(out, time.Now())
	if err != nil {
		t.Fatalf("ParseAssignments: %v (raw: %s)", err, out)
	}
	for _, is := range issues {
		t.Logf("issue: %s", is)
	}
	if len(assignments) == 0 {
		t.Fatal("expected at least one assignment")
	}
	for _, a := range assignments {
		t.Logf("assignment %q due %v with %d phases", a.Title, a.DueDate, len(a.Phases))
		if a.DueDate == nil {
			t.Errorf("assignment %q lost its due date", a.Title)
		}
	}
}
