package planner

// PlanChunks splits a phase into work chunks no larger than its intensity's
// chunk size. Every chunk is full-size except possibly the last.
func PlanChunks(p Phase) ([]int, error) {
	size, err := p.Intensity.ChunkMinutes()
	if err != nil {
		return nil, err
	}
	if p.DurationMinutes <= 0 {
		return nil, nil
	}

	chunks := make([]int, 0, chunkCount(p.DurationMinutes, size))
	for remaining := p.DurationMinutes; remaining > 0; remaining -= size {
		chunks = append(chunks, min(size, remaining))
	}
	return chunks, nil
}

func chunkCount(duration, size int) int {
	if duration <= 0 {
		return 0
	}
	n := duration / size
	if duration%size != 0 {
		n++
	}
	return n
}
