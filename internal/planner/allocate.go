package planner

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// eventNamespace seeds name-based event ids so that identical inputs always
// produce identical ids.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://auraplan.dev/events"))

// pendingChunk is one chunk waiting for placement, tagged with where it came from.
type pendingChunk struct {
	assignment int
	phase      int
	index      int
	minutes    int
	cutoff     time.Time
}

// allocator owns the free slot list for a single planning pass. Slots only
// ever shrink from the front or disappear.
type allocator struct {
	slots []Interval
}

func newAllocator(free []Interval) *allocator {
	return &allocator{slots: slices.Clone(free)}
}

// place puts a chunk of the given length into the first slot that is long
// enough and whose end is not after cutoff. The slot's end is checked, not
// the chunk's, so a long slot running past the cutoff is skipped even if
// the chunk alone would fit before it.
func (a *allocator) place(minutes int, cutoff time.Time) (Interval, bool) {
	need := time.Duration(minutes) * time.Minute
	for i := range a.slots {
		slot := &a.slots[i]
		if slot.Duration() < need || slot.End.After(cutoff) {
			continue
		}

		placed := Interval{Start: slot.Start, End: slot.Start.Add(need)}
		slot.Start = placed.End
		if slot.Duration() < time.Minute {
			a.slots = slices.Delete(a.slots, i, i+1)
		}
		return placed, true
	}
	return Interval{}, false
}

func (a *allocator) remaining() []Interval {
	return slices.Clone(a.slots)
}

func eventID(c pendingChunk, a Assignment, at time.Time) string {
	name := fmt.Sprintf("%d\x00%s\x00%d\x00%s\x00%d\x00%s",
		c.assignment, a.Title, c.phase, a.Phases[c.phase].Title, c.index, at.UTC().Format(time.RFC3339))
	return "assign-" + uuid.NewSHA1(eventNamespace, []byte(name)).String()
}
