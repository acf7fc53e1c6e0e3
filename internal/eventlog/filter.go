package eventlog

import "evoviz/internal/model"

// Filter returns the records of one event type in stream order.
func Filter(records []model.LogRecord, eventType model.EventType) []model.LogRecord {
	out := make([]model.LogRecord, 0, len(records)/4)
	for _, record := range records {
		if record.Type == eventType {
			out = append(out, record)
		}
	}
	return out
}

// Generations lists the distinct generations of the given records in first-seen order.
func Generations(records []model.LogRecord) []int {
	out := make([]int, 0, 64)
	for i, record := range records {
		if i == 0 || record.Generation != records[i-1].Generation {
			out = append(out, record.Generation)
		}
	}
	return out
}

// CountByType tallies records per event type.
func CountByType(records []model.LogRecord) map[model.EventType]int {
	counts := make(map[model.EventType]int)
	for _, record := range records {
		counts[record.Type]++
	}
	return counts
}
