package trace

import "evoviz/internal/model"

const degreeBuckets = 3

// ChildDegree classifies a bubble-up by the child slot it came from.
func ChildDegree(record model.LogRecord) model.Degree {
	return DegreeOf(record.Child)
}

func DegreeOf(child int) model.Degree {
	d := child % degreeBuckets
	if d < 0 {
		d += degreeBuckets
	}
	return model.Degree(d)
}

func DegreeLabel(d model.Degree) string {
	switch d {
	case model.DegreeLeft:
		return "left"
	case model.DegreeCenter:
		return "center"
	case model.DegreeRight:
		return "right"
	default:
		return "unknown"
	}
}

// DegreeCounts tallies each agent's bubble-ups per degree.
func DegreeCounts(overlay model.Overlay) [][degreeBuckets]int {
	counts := make([][degreeBuckets]int, len(overlay.Degrees))
	for agent, degrees := range overlay.Degrees {
		for _, d := range degrees {
			if d >= 0 && int(d) < degreeBuckets {
				counts[agent][d]++
			}
		}
	}
	return counts
}
