package trace

import (
	"math"

	"evoviz/internal/model"
	"evoviz/internal/topology"
)

// Policy parameterises one operator's improvement scan.
type Policy struct {
	Type model.EventType
	// Improved selects the records that count; nil counts every record.
	Improved func(model.LogRecord) bool
	// DedupPerGeneration keeps at most one entry per agent per generation.
	DedupPerGeneration bool
	// Degree classifies a record; nil disables the degree list.
	Degree func(model.LogRecord) model.Degree
}

func MutationPolicy() Policy {
	return Policy{
		Type:     model.EventCurrentMutate,
		Improved: improvedWithFitness,
	}
}

// LocalSearchPolicy compares fitness without a NaN guard: a NaN on either side
// never compares less, so such records simply do not count.
func LocalSearchPolicy() Policy {
	return Policy{
		Type:               model.EventPocketLocalSearch,
		Improved:           model.LogRecord.Improved,
		DedupPerGeneration: true,
	}
}

func BubbleUpPolicy() Policy {
	return Policy{
		Type:   model.EventBubbleUp,
		Degree: ChildDegree,
	}
}

func RecombinationPolicy() Policy {
	return Policy{
		Type:     model.EventCurrentRecombine,
		Improved: improvedWithFitness,
	}
}

// Scan walks the records of policy.Type in stream order and stops at the first
// one whose generation reaches upto. Each counted record adds its generation to
// the agent's list and, when the generation is found on the track's axis and
// the agent has a value at that position, the matching pocket fitness.
// Unmatched lookups add no fitness entry; they are tallied in Overlay.Misses.
func Scan(records []model.LogRecord, upto int, track model.FitnessTrack, topo topology.Topology, policy Policy) model.Overlay {
	overlay := newOverlay(policy, topo.Slots)
	var seen []map[int]struct{}
	if policy.DedupPerGeneration {
		seen = make([]map[int]struct{}, topo.Slots)
	}

	for _, record := range records {
		if record.Type != policy.Type {
			continue
		}
		if record.Generation >= upto {
			break
		}
		if record.Agent < 0 || record.Agent >= topo.Slots {
			continue
		}
		if policy.Improved != nil && !policy.Improved(record) {
			continue
		}
		agent := record.Agent
		if seen != nil {
			if seen[agent] == nil {
				seen[agent] = make(map[int]struct{})
			}
			if _, dup := seen[agent][record.Generation]; dup {
				continue
			}
			seen[agent][record.Generation] = struct{}{}
		}

		overlay.Xs[agent] = append(overlay.Xs[agent], record.Generation)
		if policy.Degree != nil {
			overlay.Degrees[agent] = append(overlay.Degrees[agent], policy.Degree(record))
		}
		value, ok := Lookup(track, agent, record.Generation)
		overlay.Hit[agent] = append(overlay.Hit[agent], ok)
		if ok {
			overlay.Ys[agent] = append(overlay.Ys[agent], value)
		} else {
			overlay.Misses++
		}
	}
	return overlay
}

func Mutations(records []model.LogRecord, upto int, track model.FitnessTrack, topo topology.Topology) model.Overlay {
	return Scan(records, upto, track, topo, MutationPolicy())
}

func LocalSearches(records []model.LogRecord, upto int, track model.FitnessTrack, topo topology.Topology) model.Overlay {
	return Scan(records, upto, track, topo, LocalSearchPolicy())
}

func BubbleUps(records []model.LogRecord, upto int, track model.FitnessTrack, topo topology.Topology) model.Overlay {
	return Scan(records, upto, track, topo, BubbleUpPolicy())
}

func Recombinations(records []model.LogRecord, upto int, track model.FitnessTrack, topo topology.Topology) model.Overlay {
	return Scan(records, upto, track, topo, RecombinationPolicy())
}

func improvedWithFitness(record model.LogRecord) bool {
	return !math.IsNaN(record.Post.Fitness) && record.Post.Fitness < record.Pre.Fitness
}

func newOverlay(policy Policy, slots int) model.Overlay {
	if slots < 0 {
		slots = 0
	}
	overlay := model.Overlay{
		Operator: policy.Type,
		Xs:       make([][]int, slots),
		Ys:       make([][]float64, slots),
		Hit:      make([][]bool, slots),
	}
	if policy.Degree != nil {
		overlay.Degrees = make([][]model.Degree, slots)
	}
	for i := 0; i < slots; i++ {
		overlay.Xs[i] = []int{}
		overlay.Ys[i] = []float64{}
		overlay.Hit[i] = []bool{}
		if overlay.Degrees != nil {
			overlay.Degrees[i] = []model.Degree{}
		}
	}
	return overlay
}

// Point is one overlay entry of an agent.
type Point struct {
	Generation int
	Fitness    float64
	// HasFitness is false when the generation was not found on the track.
	HasFitness bool
	Degree     model.Degree
	HasDegree  bool
}

// Points flattens one agent's overlay entries in scan order, giving each
// generation the fitness its own lookup produced. Overlays without hit flags
// for the agent pair Xs and Ys by position.
func Points(overlay model.Overlay, agent int) []Point {
	if agent < 0 || agent >= len(overlay.Xs) {
		return nil
	}
	xs := overlay.Xs[agent]
	var ys []float64
	if agent < len(overlay.Ys) {
		ys = overlay.Ys[agent]
	}
	var hits []bool
	if agent < len(overlay.Hit) && len(overlay.Hit[agent]) == len(xs) {
		hits = overlay.Hit[agent]
	}
	var degrees []model.Degree
	if agent < len(overlay.Degrees) {
		degrees = overlay.Degrees[agent]
	}

	points := make([]Point, len(xs))
	next := 0
	for i, gen := range xs {
		p := Point{Generation: gen}
		hit := i < len(ys)
		if hits != nil {
			hit = hits[i] && next < len(ys)
		}
		if hit {
			idx := i
			if hits != nil {
				idx = next
				next++
			}
			p.Fitness, p.HasFitness = ys[idx], true
		}
		if i < len(degrees) {
			p.Degree, p.HasDegree = degrees[i], true
		}
		points[i] = p
	}
	return points
}

// PolicyFor returns the improvement policy of an operator event type.
func PolicyFor(eventType model.EventType) (Policy, bool) {
	switch eventType {
	case model.EventCurrentMutate:
		return MutationPolicy(), true
	case model.EventPocketLocalSearch:
		return LocalSearchPolicy(), true
	case model.EventBubbleUp:
		return BubbleUpPolicy(), true
	case model.EventCurrentRecombine:
		return RecombinationPolicy(), true
	}
	return Policy{}, false
}
