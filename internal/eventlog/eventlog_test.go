package eventlog

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evoviz/internal/model"
	"evoviz/internal/topology"
)

const sampleLog = `12:00:00,0,PopulationBestFitnessPocket,0,x1+1,10.0,0.5
12:00:00,0,PopulationBestFitnessPocket,1,x1*2,12.0,0.7
12:00:01,0,RandomNoise,0
12:00:01,1,AgentCurrentMutate,0,x1+1,10.0,0.5,x1+2,8.0,0.4
12:00:01,1,AgentBubbleUp,0,x1+1,10.0,0.5,4,x1,7.5,0.3
12:00:02,1,AgentPocketLocalSearch,2,x1,9.0,0.2,x1,nan,nan

12:00:03,1,PopulationBestFitnessPocket,0,x1+2,8.0,0.4
`

func TestReadRowsSkipsBlankLinesAndKeepsArity(t *testing.T) {
	rows, err := ReadRowsFrom(strings.NewReader(sampleLog))
	require.NoError(t, err)
	require.Len(t, rows, 7)
	assert.Len(t, rows[0], 7)
	assert.Len(t, rows[2], 4)
	assert.Len(t, rows[4], 11)
}

func TestDecodeNamedFields(t *testing.T) {
	rows, err := ReadRowsFrom(strings.NewReader(sampleLog))
	require.NoError(t, err)

	records, err := Decode(rows, topology.Default())
	require.NoError(t, err)
	require.Len(t, records, 7)

	pocket := records[0]
	assert.Equal(t, model.EventPocketFitness, pocket.Type)
	assert.Equal(t, 0, pocket.Generation)
	assert.Equal(t, "x1+1", pocket.Current.Model)
	assert.Equal(t, 10.0, pocket.Current.Fitness)
	assert.Equal(t, 1, pocket.Line)

	unknown := records[2]
	assert.Equal(t, model.EventType("RandomNoise"), unknown.Type)
	assert.Equal(t, -1, unknown.Agent)

	mutate := records[3]
	assert.Equal(t, 10.0, mutate.Pre.Fitness)
	assert.Equal(t, 8.0, mutate.Post.Fitness)
	assert.Equal(t, "x1+2", mutate.Post.Model)
	assert.True(t, mutate.Improved())

	bubble := records[4]
	assert.Equal(t, 4, bubble.Child)
	assert.Equal(t, 7.5, bubble.ChildSolution.Fitness)

	ls := records[5]
	assert.True(t, math.IsNaN(ls.Post.Fitness))
	assert.False(t, ls.Post.HasFitness())
	assert.False(t, ls.Improved())
}

func TestDecodeRejectsMalformedRows(t *testing.T) {
	topo := topology.Default()
	cases := map[string]struct {
		rows [][]string
		want error
	}{
		"missing type": {
			rows: [][]string{{"t", "0"}},
			want: ErrShortRow,
		},
		"short header": {
			rows: [][]string{{"t", "0", "PopulationBestFitnessPocket"}},
			want: ErrShortRow,
		},
		"short operator": {
			rows: [][]string{{"t", "0", "AgentCurrentMutate", "0", "m", "1.0"}},
			want: ErrShortRow,
		},
		"bad generation": {
			rows: [][]string{{"t", "x", "PopulationBestFitnessPocket", "0", "m", "1.0"}},
			want: ErrNumericField,
		},
		"bad fitness": {
			rows: [][]string{{"t", "0", "PopulationBestFitnessPocket", "0", "m", "oops"}},
			want: ErrNumericField,
		},
		"agent range": {
			rows: [][]string{{"t", "0", "PopulationBestFitnessPocket", "13", "m", "1.0"}},
			want: ErrAgentRange,
		},
		"generation order": {
			rows: [][]string{
				{"t", "2", "PopulationBestFitnessPocket", "0", "m", "1.0"},
				{"t", "1", "PopulationBestFitnessPocket", "0", "m", "1.0"},
			},
			want: ErrGenerationOrder,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(tc.rows, topo)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestDecodeUnknownTypeNeedsOnlyGeneration(t *testing.T) {
	records, err := Decode([][]string{
		{"t", "0", "PopulationBestFitnessPocket", "0", "m", "1.0"},
		{"t", "1", "RandomNoise"},
		{"t", "1", "PopulationBestFitnessPocket", "0", "m", "0.5"},
	}, topology.Default())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, model.EventType("RandomNoise"), records[1].Type)
	assert.Equal(t, 1, records[1].Generation)
	assert.Equal(t, -1, records[1].Agent)

	_, err = DecodeRow([]string{"t", "x", "RandomNoise"}, topology.Default())
	assert.ErrorIs(t, err, ErrNumericField)
}

func TestParseMetricSentinels(t *testing.T) {
	for _, raw := range []string{"nan", "NaN", "-nan", " nan "} {
		value, err := ParseMetric(raw)
		require.NoError(t, err, raw)
		assert.True(t, math.IsNaN(value), raw)
	}
	value, err := ParseMetric("1e-3")
	require.NoError(t, err)
	assert.Equal(t, 0.001, value)
	_, err = ParseMetric("")
	require.Error(t, err)
}

func TestFilterPreservesOrderAndNeverGrows(t *testing.T) {
	rows, err := ReadRowsFrom(strings.NewReader(sampleLog))
	require.NoError(t, err)
	records, err := Decode(rows, topology.Default())
	require.NoError(t, err)

	pockets := Filter(records, model.EventPocketFitness)
	require.Len(t, pockets, 3)
	assert.LessOrEqual(t, len(pockets), len(records))
	lines := make([]int, 0, len(pockets))
	for _, record := range pockets {
		assert.Equal(t, model.EventPocketFitness, record.Type)
		lines = append(lines, record.Line)
	}
	assert.Equal(t, []int{1, 2, 7}, lines)

	assert.Empty(t, Filter(records, model.EventCurrentRecombine))
	assert.Empty(t, Filter(nil, model.EventPocketFitness))
}

func TestGenerationsAndCounts(t *testing.T) {
	rows, err := ReadRowsFrom(strings.NewReader(sampleLog))
	require.NoError(t, err)
	records, err := Decode(rows, topology.Default())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, Generations(records))
	counts := CountByType(records)
	assert.Equal(t, 3, counts[model.EventPocketFitness])
	assert.Equal(t, 1, counts[model.EventBubbleUp])
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "7.Master.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))

	records, err := Load(nil, path, topology.Default())
	require.NoError(t, err)
	assert.Len(t, records, 7)

	_, err = Load(CSVRowReader{}, filepath.Join(t.TempDir(), "missing.Master.log"), topology.Default())
	require.Error(t, err)
}
