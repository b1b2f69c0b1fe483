package ai

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/auraplan/aura/internal/intake"
)

// task is one kind of extraction a provider can perform.
type task struct {
	name   string
	system string
	schema string
}

var (
	commitmentSchema = schemaFor(&intake.CommitmentList{})
	assignmentSchema = schemaFor(&intake.AssignmentList{})
)

func schemaFor(v any) string {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("building schema for %T: %v", v, err))
	}
	return string(data)
}

func commitmentTask() task {
	return task{
		name:   "commitments",
		schema: commitmentSchema,
		system: `You are a class schedule parser. Extract every class or other fixed weekly block from the text the user gives you.

For each one identify:
- the class name and code (for example "CSE 611 - Algorithms")
- the days of the week as numbers: 0=Sunday, 1=Monday, ..., 6=Saturday
- the start time in 24-hour HH:MM format
- the end time in 24-hour HH:MM format

Rules:
- Put one entry per distinct class and time block; a class that meets at different times on different days gets one entry per time block
- Do not invent classes that are not in the text
- If no classes are found, return an empty commitments array

Return valid JSON matching the required schema.`,
	}
}

func assignmentTask(today time.Time) task {
	return task{
		name:   "assignments",
		schema: assignmentSchema,
		system: fmt.Sprintf(`You extract assignments, projects and deliverables from a course document.

Today is %s (%s).

For each assignment give:
- title: a brief name
- due_date: the due date as YYYY-MM-DD, or null if the document gives none
- phases: the ordered work phases, each with a title, an estimated duration_minutes and an intensity of Low, Medium or High

Rules:
- Resolve relative dates such as "next Friday" against today's date
- Estimate durations a typical student would need; every phase needs a positive duration
- Use High intensity for focused, demanding work and Low for light reading or review
- If nothing is found, return an empty assignments array

Return valid JSON matching the required schema.`, today.Format("2006-01-02"), today.Weekday()),
	}
}

func buildUserPrompt(t task, text string) string {
	return fmt.Sprintf("Extract the %s from this document:\n---\n%s\n---", t.name, text)
}
