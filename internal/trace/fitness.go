package trace

import (
	"evoviz/internal/model"
	"evoviz/internal/topology"
)

// ExtractFitnessTracks rebuilds the pocket fitness history of every slot.
// The generation axis grows whenever a pocket record's generation differs from
// the previous pocket record; per-agent values are appended independently.
func ExtractFitnessTracks(records []model.LogRecord, topo topology.Topology) model.FitnessTrack {
	track := newTrack(topo.Slots)
	first := true
	last := 0
	for _, record := range records {
		if record.Type != model.EventPocketFitness {
			continue
		}
		if first || record.Generation != last {
			track.X = append(track.X, record.Generation)
			last = record.Generation
			first = false
		}
		if record.Agent < 0 || record.Agent >= len(track.Ys) {
			continue
		}
		track.Ys[record.Agent] = append(track.Ys[record.Agent], record.Current.Fitness)
		track.Gens[record.Agent] = append(track.Gens[record.Agent], record.Generation)
	}
	return track
}

// Upto returns the part of a track observed strictly before cutoff. The
// returned slices share backing arrays with the input and must not be mutated.
func Upto(track model.FitnessTrack, cutoff int) model.FitnessTrack {
	out := model.FitnessTrack{
		X:    track.X[:prefixBefore(track.X, cutoff)],
		Ys:   make([][]float64, len(track.Ys)),
		Gens: make([][]int, len(track.Gens)),
	}
	for agent := range track.Ys {
		n := len(track.Ys[agent])
		if agent < len(track.Gens) {
			n = prefixBefore(track.Gens[agent], cutoff)
			out.Gens[agent] = track.Gens[agent][:n]
		}
		out.Ys[agent] = track.Ys[agent][:n]
	}
	return out
}

// Final returns the last pocket fitness of a slot.
func Final(track model.FitnessTrack, agent int) (float64, bool) {
	if agent < 0 || agent >= len(track.Ys) || len(track.Ys[agent]) == 0 {
		return 0, false
	}
	ys := track.Ys[agent]
	return ys[len(ys)-1], true
}

// Lookup returns the agent's pocket fitness recorded at generation. The value
// is taken at the generation's position on the shared axis, not the agent's
// own history, so agents missing from earlier generations may resolve to a
// later entry or to nothing.
func Lookup(track model.FitnessTrack, agent, generation int) (float64, bool) {
	if agent < 0 || agent >= len(track.Ys) {
		return 0, false
	}
	for idx, value := range track.X {
		if value != generation {
			continue
		}
		if idx >= len(track.Ys[agent]) {
			return 0, false
		}
		return track.Ys[agent][idx], true
	}
	return 0, false
}

func newTrack(slots int) model.FitnessTrack {
	if slots < 0 {
		slots = 0
	}
	track := model.FitnessTrack{
		X:    make([]int, 0, 64),
		Ys:   make([][]float64, slots),
		Gens: make([][]int, slots),
	}
	for i := 0; i < slots; i++ {
		track.Ys[i] = []float64{}
		track.Gens[i] = []int{}
	}
	return track
}

// prefixBefore counts the leading values strictly below cutoff. Inputs are
// generation ordered.
func prefixBefore(values []int, cutoff int) int {
	n := 0
	for n < len(values) && values[n] < cutoff {
		n++
	}
	return n
}
