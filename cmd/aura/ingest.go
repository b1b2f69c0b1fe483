package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/auraplan/aura/internal/ai"
	"github.com/auraplan/aura/internal/intake"
	"github.com/auraplan/aura/internal/planner"
	"github.com/auraplan/aura/internal/tui"
)

var ingestCmd = &cobra.Command{
	Use:       "ingest commitments|assignments [FILE]",
	Short:     "Extract commitments or assignments from free text",
	Long:      "Reads a schedule or syllabus from FILE, asks the configured model for a proposal and writes the validated result as JSON. Without FILE an editor opens to paste the text.",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"commitments", "assignments"},
	RunE:      runIngest,
}

var commitmentsCmd = &cobra.Command{
	Use:   "commitments",
	Short: "Manage your weekly commitments",
}

var commitmentsSetCmd = &cobra.Command{
	Use:   "set FILE",
	Short: "Replace your stored commitments with the ones in FILE",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommitmentsSet,
}

var commitmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your stored commitments",
	Args:  cobra.NoArgs,
	RunE:  runCommitmentsList,
}

func init() {
	ingestCmd.Flags().StringP("output", "o", "", "write JSON here instead of stdout")

	commitmentsCmd.AddCommand(commitmentsSetCmd)
	commitmentsCmd.AddCommand(commitmentsListCmd)

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(commitmentsCmd)
}

// ingestKind ties a proposal call to the matching intake parser.
type ingestKind struct {
	propose func(p ai.Provider) tui.ProposeFunc
	check   func(data []byte) ([]string, []string, any, error)
}

func kinds(ref time.Time) map[string]ingestKind {
	return map[string]ingestKind{
		"commitments": {
			propose: func(p ai.Provider) tui.ProposeFunc { return p.ProposeCommitments },
			check: func(data []byte) ([]string, []string, any, error) {
				cs, issues, err := intake.ParseCommitments(data)
				if err != nil {
					return nil, nil, nil, err
				}
				if cs == nil {
					cs = []planner.Commitment{}
				}
				lines := make([]string, len(cs))
				for i, c := range cs {
					lines[i] = formatCommitment(c)
				}
				return lines, issueStrings(issues), cs, nil
			},
		},
		"assignments": {
			propose: func(p ai.Provider) tui.ProposeFunc { return p.ProposeAssignments },
			check: func(data []byte) ([]string, []string, any, error) {
				as, issues, err := intake.ParseAssignments(data, ref)
				if err != nil {
					return nil, nil, nil, err
				}
				if as == nil {
					as = []planner.Assignment{}
				}
				var lines []string
				for _, a := range as {
					lines = append(lines, formatAssignment(a)...)
				}
				return lines, issueStrings(issues), as, nil
			},
		},
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")

	e, err := loadEnv()
	if err != nil {
		return err
	}
	kind, ok := kinds(time.Now())[args[0]]
	if !ok {
		return fmt.Errorf("unknown kind %q (want commitments or assignments)", args[0])
	}

	provider, err := ai.NewProvider(e.cfg.AI, e.logger)
	if err != nil {
		return err
	}
	propose := kind.propose(provider)

	var data []byte
	if len(args) == 2 {
		text, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Minute)
		defer cancel()

		fmt.Fprintln(os.Stderr, "Asking the model...")
		if data, err = propose(ctx, string(text)); err != nil {
			return fmt.Errorf("proposing %s: %w", args[0], err)
		}
	} else {
		check := func(d []byte) ([]string, []string, error) {
			lines, issues, _, err := kind.check(d)
			return lines, issues, err
		}
		app := tui.NewIngestApp(args[0], propose, check)
		if _, err := tea.NewProgram(app).Run(); err != nil {
			return fmt.Errorf("running TUI: %w", err)
		}
		res := app.GetResult()
		if res == nil || res.Skipped {
			fmt.Println("Nothing saved.")
			return nil
		}
		data = res.Data
	}

	lines, issues, normalized, err := kind.check(data)
	if err != nil {
		return fmt.Errorf("validating proposal: %w", err)
	}
	for _, is := range issues {
		fmt.Fprintf(os.Stderr, "skipped %s\n", is)
	}
	if len(args) == 2 {
		for _, l := range lines {
			fmt.Fprintln(os.Stderr, "  "+l)
		}
	}
	return writeJSONFile(output, normalized)
}

func runCommitmentsSet(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	cs, issues, err := intake.ParseCommitments(data)
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

	if err := db.SaveCommitments(e.user, cs); err != nil {
		return fmt.Errorf("saving commitments: %w", err)
	}
	fmt.Printf("Saved %d commitments for %s.\n", len(cs), e.user)
	return nil
}

func runCommitmentsList(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	cs, err := db.Commitments(e.user)
	if err != nil {
		return fmt.Errorf("loading commitments: %w", err)
	}
	if len(cs) == 0 {
		fmt.Println("No commitments stored. Use 'aura commitments set FILE'.")
		return nil
	}
	for _, c := range cs {
		fmt.Println("  " + formatCommitment(c))
	}
	return nil
}

func issueStrings(issues []intake.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.String()
	}
	return out
}

func formatCommitment(c planner.Commitment) string {
	days := make([]string, len(c.Days))
	for i, d := range c.Days {
		days[i] = d.String()[:3]
	}
	hours := "no fixed time"
	if c.Start != nil && c.End != nil {
		hours = c.Start.String() + "-" + c.End.String()
	}
	return fmt.Sprintf("%-24s %-20s %s", c.Title, strings.Join(days, " "), hours)
}

func formatAssignment(a planner.Assignment) []string {
	due := "no due date"
	if a.DueDate != nil {
		due = "due " + a.DueDate.String()
	}
	lines := []string{fmt.Sprintf("%s (%s)", a.Title, due)}
	for _, p := range a.Phases {
		lines = append(lines, fmt.Sprintf("  %-22s %4d min  %s", p.Title, p.DurationMinutes, p.Intensity))
	}
	return lines
}

// writeJSONFile writes v as indented JSON to path, or stdout when path is empty.
func writeJSONFile(path string, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	out = append(out, '\n')
	if path == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}
