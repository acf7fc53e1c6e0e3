package summary

import (
	"errors"
	"log/slog"

	"evoviz/internal/model"
	"evoviz/internal/topology"
	"evoviz/internal/trace"
)

const (
	DefaultEvery      = 20
	DefaultFirst      = 1
	DefaultClosingPad = 2
)

var ErrNoFitnessRecords = errors.New("log has no pocket fitness records")

// Cadence decides which generation boundaries produce a snapshot.
type Cadence struct {
	Every int
	First int
}

func DefaultCadence() Cadence {
	return Cadence{Every: DefaultEvery, First: DefaultFirst}
}

// Emit reports whether generation gen is a snapshot point: every Every-th
// generation counted from one, plus First.
func (c Cadence) Emit(gen int) bool {
	if c.Every > 0 && (gen+1)%c.Every == 0 {
		return true
	}
	return gen == c.First
}

type Aggregator struct {
	Topology topology.Topology
	Cadence  Cadence
	Logger   *slog.Logger
}

func NewAggregator(topo topology.Topology, cadence Cadence, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{Topology: topo, Cadence: cadence, Logger: logger}
}

// Build produces one snapshot per cadence point, in generation order, and a
// closing snapshot that covers the whole stream. Fitness tracks are extracted
// once and shared by every snapshot.
func (a *Aggregator) Build(records []model.LogRecord) ([]model.Snapshot, error) {
	track := trace.ExtractFitnessTracks(records, a.Topology)
	if len(track.X) == 0 {
		return nil, ErrNoFitnessRecords
	}

	snapshots := make([]model.Snapshot, 0, len(track.X)/maxInt(a.Cadence.Every, 1)+2)
	for i, gen := range track.X {
		// The stream is expected to open at generation zero; that is not a boundary.
		if i == 0 && gen == 0 {
			continue
		}
		if !a.Cadence.Emit(gen) {
			continue
		}
		snapshots = append(snapshots, a.Snapshot(records, track, gen))
	}

	last := track.X[len(track.X)-1]
	final := a.Snapshot(records, track, last+1)
	final.Generation = last
	final.Final = true
	snapshots = append(snapshots, final)
	return snapshots, nil
}

// Snapshot assembles the state visible before cutoff.
func (a *Aggregator) Snapshot(records []model.LogRecord, track model.FitnessTrack, cutoff int) model.Snapshot {
	snap := model.Snapshot{
		Generation:    cutoff,
		Cutoff:        cutoff,
		Track:         trace.Upto(track, cutoff),
		Mutation:      trace.Mutations(records, cutoff, track, a.Topology),
		LocalSearch:   trace.LocalSearches(records, cutoff, track, a.Topology),
		BubbleUp:      trace.BubbleUps(records, cutoff, track, a.Topology),
		Recombination: trace.Recombinations(records, cutoff, track, a.Topology),
	}
	snap.DegreeCounts = trace.DegreeCounts(snap.BubbleUp)

	misses := snap.Mutation.Misses + snap.LocalSearch.Misses + snap.BubbleUp.Misses + snap.Recombination.Misses
	a.Logger.Debug("snapshot built",
		"cutoff", cutoff,
		"mutations", countAll(snap.Mutation.Xs),
		"local_searches", countAll(snap.LocalSearch.Xs),
		"bubble_ups", countAll(snap.BubbleUp.Xs),
		"recombinations", countAll(snap.Recombination.Xs),
		"fitness_misses", misses,
	)
	return snap
}

func countAll(xs [][]int) int {
	total := 0
	for _, list := range xs {
		total += len(list)
	}
	return total
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
