package trace

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evoviz/internal/model"
	"evoviz/internal/topology"
)

func pocket(gen, agent int, fitness float64) model.LogRecord {
	return model.LogRecord{
		Generation: gen,
		Type:       model.EventPocketFitness,
		Agent:      agent,
		Current:    model.Solution{Fitness: fitness, Error: math.NaN()},
	}
}

func operator(kind model.EventType, gen, agent int, pre, post float64) model.LogRecord {
	return model.LogRecord{
		Generation: gen,
		Type:       kind,
		Agent:      agent,
		Pre:        model.Solution{Fitness: pre},
		Post:       model.Solution{Fitness: post},
	}
}

func bubble(gen, agent, child int) model.LogRecord {
	return model.LogRecord{
		Generation: gen,
		Type:       model.EventBubbleUp,
		Agent:      agent,
		Pre:        model.Solution{Fitness: 5},
		Child:      child,
	}
}

func TestExtractFitnessTracksScenario(t *testing.T) {
	records := []model.LogRecord{
		pocket(0, 0, 10.0),
		pocket(0, 1, 12.0),
		pocket(1, 0, 8.0),
	}
	track := ExtractFitnessTracks(records, topology.Default())

	assert.Equal(t, []int{0, 1}, track.X)
	assert.Equal(t, []float64{10.0, 8.0}, track.Ys[0])
	assert.Equal(t, []float64{12.0}, track.Ys[1])
	assert.Empty(t, track.Ys[2])
	assert.Len(t, track.Ys, 13)
}

func TestExtractFitnessTracksAxisIsDistinctFirstSeen(t *testing.T) {
	records := []model.LogRecord{
		pocket(0, 0, 3),
		operator(model.EventCurrentMutate, 0, 0, 3, 2),
		pocket(0, 1, 4),
		pocket(2, 0, 2),
		operator(model.EventCurrentMutate, 3, 0, 3, 2),
		pocket(2, 1, 4),
		pocket(5, 0, 1),
	}
	track := ExtractFitnessTracks(records, topology.Default())
	assert.Equal(t, []int{0, 2, 5}, track.X)
	assert.Equal(t, []int{0, 2, 5}, track.Gens[0])
	assert.Equal(t, []int{0, 2}, track.Gens[1])
}

func TestUptoTruncatesBeforeCutoff(t *testing.T) {
	records := []model.LogRecord{
		pocket(0, 0, 3), pocket(0, 1, 4),
		pocket(1, 0, 2), pocket(1, 1, 4),
		pocket(2, 0, 1),
	}
	track := ExtractFitnessTracks(records, topology.Default())
	cut := Upto(track, 2)
	assert.Equal(t, []int{0, 1}, cut.X)
	assert.Equal(t, []float64{3, 2}, cut.Ys[0])
	assert.Equal(t, []float64{4, 4}, cut.Ys[1])

	all := Upto(track, 100)
	assert.Equal(t, track.X, all.X)
	assert.Equal(t, []float64{3, 2, 1}, all.Ys[0])

	final, ok := Final(track, 0)
	require.True(t, ok)
	assert.Equal(t, 1.0, final)
	_, ok = Final(track, 7)
	assert.False(t, ok)
}

func TestMutationScenario(t *testing.T) {
	track := model.FitnessTrack{
		X:  []int{0, 1},
		Ys: make([][]float64, 13),
	}
	track.Ys[0] = []float64{10.0, 8.0}
	records := []model.LogRecord{operator(model.EventCurrentMutate, 1, 0, 10.0, 8.0)}

	overlay := Mutations(records, 5, track, topology.Default())
	assert.Equal(t, []int{1}, overlay.Xs[0])
	assert.Equal(t, []float64{8.0}, overlay.Ys[0])
	assert.Equal(t, 0, overlay.Misses)
	assert.Equal(t, model.EventCurrentMutate, overlay.Operator)
	assert.Nil(t, overlay.Degrees)
}

func TestMutationImprovementPredicate(t *testing.T) {
	policy := MutationPolicy()
	assert.True(t, policy.Improved(operator(model.EventCurrentMutate, 0, 0, 5.0, 3.0)))
	assert.False(t, policy.Improved(operator(model.EventCurrentMutate, 0, 0, 3.0, 5.0)))
	assert.False(t, policy.Improved(operator(model.EventCurrentMutate, 0, 0, 3.0, 3.0)))
	for _, pre := range []float64{math.Inf(1), 5, math.NaN(), -1} {
		assert.False(t, policy.Improved(operator(model.EventCurrentMutate, 0, 0, pre, math.NaN())))
	}
}

func TestScanStopsAtCutoff(t *testing.T) {
	records := []model.LogRecord{
		pocket(0, 0, 9), pocket(1, 0, 8), pocket(2, 0, 7), pocket(3, 0, 6),
		operator(model.EventCurrentMutate, 0, 0, 10, 9),
		operator(model.EventCurrentMutate, 1, 0, 9, 8),
		operator(model.EventCurrentMutate, 2, 0, 8, 7),
		operator(model.EventCurrentMutate, 3, 0, 7, 6),
	}
	track := ExtractFitnessTracks(records, topology.Default())
	for _, policy := range []Policy{MutationPolicy(), LocalSearchPolicy(), BubbleUpPolicy(), RecombinationPolicy()} {
		overlay := Scan(records, 2, track, topology.Default(), policy)
		for _, xs := range overlay.Xs {
			for _, gen := range xs {
				assert.Less(t, gen, 2)
			}
		}
	}
	overlay := Mutations(records, 2, track, topology.Default())
	assert.Equal(t, []int{0, 1}, overlay.Xs[0])
	assert.Equal(t, []float64{9, 8}, overlay.Ys[0])
}

func TestScanKeepsGenerationWhenFitnessLookupMisses(t *testing.T) {
	records := []model.LogRecord{
		pocket(0, 0, 9),
		pocket(0, 1, 9),
		pocket(1, 0, 8),
		operator(model.EventCurrentMutate, 1, 1, 9, 7),
		operator(model.EventCurrentMutate, 1, 2, 9, 7),
		operator(model.EventCurrentMutate, 3, 0, 9, 7),
	}
	track := ExtractFitnessTracks(records, topology.Default())
	overlay := Mutations(records, 10, track, topology.Default())

	assert.Equal(t, []int{1}, overlay.Xs[1])
	assert.Empty(t, overlay.Ys[1])
	assert.Equal(t, []int{1}, overlay.Xs[2])
	assert.Empty(t, overlay.Ys[2])
	assert.Equal(t, []int{3}, overlay.Xs[0])
	assert.Empty(t, overlay.Ys[0])
	assert.Equal(t, 3, overlay.Misses)
}

func TestPointsPairFitnessWithItsOwnGenerationAfterMiss(t *testing.T) {
	records := []model.LogRecord{
		pocket(0, 0, 9),
		operator(model.EventCurrentMutate, 1, 0, 9, 7),
		pocket(2, 0, 6),
		operator(model.EventCurrentMutate, 2, 0, 7, 6),
	}
	track := ExtractFitnessTracks(records, topology.Default())
	overlay := Mutations(records, 10, track, topology.Default())

	require.Equal(t, []int{1, 2}, overlay.Xs[0])
	require.Equal(t, []float64{6}, overlay.Ys[0])
	assert.Equal(t, []bool{false, true}, overlay.Hit[0])
	assert.Equal(t, 1, overlay.Misses)

	points := Points(overlay, 0)
	require.Len(t, points, 2)
	assert.Equal(t, Point{Generation: 1}, points[0])
	assert.Equal(t, Point{Generation: 2, Fitness: 6, HasFitness: true}, points[1])
}

func TestPointsWithoutHitFlagsPairByPosition(t *testing.T) {
	overlay := model.Overlay{
		Xs:      [][]int{{3, 4}},
		Ys:      [][]float64{{5}},
		Degrees: [][]model.Degree{{model.DegreeRight, model.DegreeLeft}},
	}
	points := Points(overlay, 0)
	require.Len(t, points, 2)
	assert.Equal(t, Point{Generation: 3, Fitness: 5, HasFitness: true, Degree: model.DegreeRight, HasDegree: true}, points[0])
	assert.Equal(t, Point{Generation: 4, Degree: model.DegreeLeft, HasDegree: true}, points[1])
	assert.Nil(t, Points(overlay, 1))
}

func TestLocalSearchDedupPerGeneration(t *testing.T) {
	records := []model.LogRecord{
		pocket(0, 0, 9), pocket(0, 3, 9), pocket(1, 0, 8), pocket(1, 3, 7),
		operator(model.EventPocketLocalSearch, 1, 3, 9, 8),
		operator(model.EventPocketLocalSearch, 1, 3, 8, 7),
		operator(model.EventPocketLocalSearch, 1, 0, 8, 9),
		operator(model.EventPocketLocalSearch, 1, 0, 8, math.NaN()),
	}
	track := ExtractFitnessTracks(records, topology.Default())
	overlay := LocalSearches(records, 2, track, topology.Default())

	assert.Equal(t, []int{1}, overlay.Xs[3])
	assert.Equal(t, []float64{7}, overlay.Ys[3])
	assert.Empty(t, overlay.Xs[0])
}

func TestMutationHasNoDedup(t *testing.T) {
	records := []model.LogRecord{
		pocket(0, 0, 9), pocket(1, 0, 8),
		operator(model.EventCurrentMutate, 1, 0, 9, 8),
		operator(model.EventCurrentMutate, 1, 0, 8, 7),
	}
	track := ExtractFitnessTracks(records, topology.Default())
	overlay := Mutations(records, 2, track, topology.Default())
	assert.Equal(t, []int{1, 1}, overlay.Xs[0])
	assert.Equal(t, []float64{8, 8}, overlay.Ys[0])
}

func TestBubbleUpCountsEveryRecordWithDegree(t *testing.T) {
	records := []model.LogRecord{pocket(0, 0, 9), pocket(1, 0, 8)}
	for child := 0; child < 6; child++ {
		records = append(records, bubble(1, 0, child))
	}
	track := ExtractFitnessTracks(records, topology.Default())
	overlay := BubbleUps(records, 2, track, topology.Default())

	assert.Equal(t, []int{1, 1, 1, 1, 1, 1}, overlay.Xs[0])
	assert.Equal(t, []float64{8, 8, 8, 8, 8, 8}, overlay.Ys[0])
	assert.Equal(t, []model.Degree{0, 1, 2, 0, 1, 2}, overlay.Degrees[0])

	counts := DegreeCounts(overlay)
	assert.Equal(t, [3]int{2, 2, 2}, counts[0])
	assert.Equal(t, [3]int{}, counts[1])
}

func TestDegreeOf(t *testing.T) {
	for child, want := range []model.Degree{0, 1, 2, 0, 1, 2} {
		assert.Equal(t, want, DegreeOf(child))
	}
	assert.Equal(t, "left", DegreeLabel(DegreeOf(3)))
	assert.Equal(t, "center", DegreeLabel(DegreeOf(4)))
	assert.Equal(t, "right", DegreeLabel(DegreeOf(5)))
	assert.Equal(t, "unknown", DegreeLabel(model.Degree(7)))
}

func TestRecombinationOverlay(t *testing.T) {
	records := []model.LogRecord{
		pocket(0, 2, 9), pocket(1, 2, 6),
		operator(model.EventCurrentRecombine, 1, 2, 9, 6),
		operator(model.EventCurrentRecombine, 1, 2, 6, math.NaN()),
	}
	track := ExtractFitnessTracks(records, topology.Default())
	overlay := Recombinations(records, 2, track, topology.Default())
	assert.Equal(t, []int{1}, overlay.Xs[2])
	assert.Equal(t, []float64{6}, overlay.Ys[2])
}

func TestPolicyFor(t *testing.T) {
	for _, kind := range []model.EventType{model.EventCurrentMutate, model.EventPocketLocalSearch, model.EventBubbleUp, model.EventCurrentRecombine} {
		policy, ok := PolicyFor(kind)
		require.True(t, ok)
		assert.Equal(t, kind, policy.Type)
	}
	_, ok := PolicyFor(model.EventPocketFitness)
	assert.False(t, ok)
}
