// Package intake turns loosely structured JSON, usually proposed by a
// language model, into validated planner inputs. Items that cannot be used
// are skipped and reported as issues instead of failing the whole document.
package intake

// The types below describe the canonical document shapes. They double as
// the JSON schemas handed to model providers.

type CommitmentList struct {
	Commitments []CommitmentItem `json:"commitments" jsonschema:"description=Every recurring class or fixed weekly block found in the text"`
}

type CommitmentItem struct {
	Title      string `json:"title" jsonschema:"description=Course name and code"`
	DaysOfWeek []int  `json:"daysOfWeek" jsonschema:"description=Weekdays as numbers where 0 is Sunday and 6 is Saturday,minItems=1"`
	StartTime  string `json:"startTime" jsonschema:"description=24-hour start time HH:MM,pattern=^[0-2][0-9]:[0-5][0-9]$"`
	EndTime    string `json:"endTime" jsonschema:"description=24-hour end time HH:MM,pattern=^[0-2][0-9]:[0-5][0-9]$"`
}

type AssignmentList struct {
	Assignments []AssignmentItem `json:"assignments" jsonschema:"description=Every assignment or deliverable found in the document"`
}

type AssignmentItem struct {
	Title   string      `json:"title" jsonschema:"description=Brief assignment name"`
	DueDate *string     `json:"due_date" jsonschema:"description=Due date as YYYY-MM-DD or null when unknown"`
	Phases  []PhaseItem `json:"phases" jsonschema:"description=Ordered work phases,minItems=1"`
}

type PhaseItem struct {
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes" jsonschema:"description=Estimated effort in minutes,minimum=1"`
	Intensity       string `json:"intensity" jsonschema:"enum=Low,enum=Medium,enum=High"`
}
