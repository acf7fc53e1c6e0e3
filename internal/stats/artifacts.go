package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"evoviz/internal/dataset"
	"evoviz/internal/model"
	"evoviz/internal/trace"
)

const (
	runIndexFile    = "run_index.json"
	configFile      = "config.json"
	summaryFile     = "summary.json"
	tracksFile      = "tracks.json"
	overlaysFile    = "overlays.csv"
	trackSeriesFile = "track_series.txt"
	AnimationFile   = "animation.gif"
)

type RunConfig struct {
	RunID        string  `json:"run_id"`
	LogPath      string  `json:"log_path"`
	Suffix       string  `json:"suffix"`
	TopologyFile string  `json:"topology_file,omitempty"`
	Slots        int     `json:"slots"`
	CadenceEvery int     `json:"cadence_every"`
	CadenceFirst int     `json:"cadence_first"`
	FPS          float64 `json:"fps"`
	ClosingPad   int     `json:"closing_pad"`
}

type AgentSummary struct {
	Agent          int      `json:"agent"`
	Points         int      `json:"points"`
	FinalFitness   *float64 `json:"final_fitness,omitempty"`
	Mutations      int      `json:"mutations"`
	LocalSearches  int      `json:"local_searches"`
	BubbleUps      int      `json:"bubble_ups"`
	Recombinations int      `json:"recombinations"`
	DegreeCounts   [3]int   `json:"degree_counts"`
}

type RunSummary struct {
	RunID               string         `json:"run_id"`
	LogPath             string         `json:"log_path"`
	AnimationPath       string         `json:"animation_path,omitempty"`
	Records             int            `json:"records"`
	Generations         int            `json:"generations"`
	Snapshots           int            `json:"snapshots"`
	Frames              int            `json:"frames"`
	Misses              int            `json:"misses"`
	SnapshotGenerations []int          `json:"snapshot_generations"`
	BestFitness         *float64       `json:"best_fitness,omitempty"`
	Agents              []AgentSummary `json:"agents"`
	Train               *dataset.Info  `json:"train,omitempty"`
	Test                *dataset.Info  `json:"test,omitempty"`
	CreatedAtUTC        string         `json:"created_at_utc"`
}

type RunArtifacts struct {
	Config  RunConfig      `json:"config"`
	Summary RunSummary     `json:"summary"`
	Final   model.Snapshot `json:"-"`
}

type RunIndexEntry struct {
	RunID        string   `json:"run_id"`
	LogPath      string   `json:"log_path"`
	Generations  int      `json:"generations"`
	Snapshots    int      `json:"snapshots"`
	Frames       int      `json:"frames"`
	BestFitness  *float64 `json:"best_fitness,omitempty"`
	CreatedAtUTC string   `json:"created_at_utc"`
}

// AgentTrack is the JSON form of one agent's pocket fitness history. NaN
// fitness values are written as null.
type AgentTrack struct {
	Agent   int        `json:"agent"`
	Gens    []int      `json:"gens"`
	Fitness []*float64 `json:"fitness"`
}

type TrackFile struct {
	X      []int        `json:"x"`
	Agents []AgentTrack `json:"agents"`
}

func NewRunID() string {
	return uuid.NewString()
}

// SummarizeAgents reduces the closing snapshot to per-agent counters.
func SummarizeAgents(final model.Snapshot) []AgentSummary {
	agents := make([]AgentSummary, len(final.Track.Ys))
	for agent := range agents {
		entry := AgentSummary{
			Agent:          agent,
			Points:         len(final.Track.Ys[agent]),
			Mutations:      countAt(final.Mutation.Xs, agent),
			LocalSearches:  countAt(final.LocalSearch.Xs, agent),
			BubbleUps:      countAt(final.BubbleUp.Xs, agent),
			Recombinations: countAt(final.Recombination.Xs, agent),
		}
		if value, ok := trace.Final(final.Track, agent); ok {
			entry.FinalFitness = finite(value)
		}
		if agent < len(final.DegreeCounts) {
			entry.DegreeCounts = final.DegreeCounts[agent]
		}
		agents[agent] = entry
	}
	return agents
}

// BestFitness is the lowest finite final fitness over every agent.
func BestFitness(agents []AgentSummary) *float64 {
	var best *float64
	for _, agent := range agents {
		if agent.FinalFitness == nil {
			continue
		}
		if best == nil || *agent.FinalFitness < *best {
			value := *agent.FinalFitness
			best = &value
		}
	}
	return best
}

func NewTrackFile(track model.FitnessTrack) TrackFile {
	out := TrackFile{
		X:      append([]int(nil), track.X...),
		Agents: make([]AgentTrack, len(track.Ys)),
	}
	for agent, ys := range track.Ys {
		entry := AgentTrack{Agent: agent, Fitness: make([]*float64, len(ys))}
		if agent < len(track.Gens) {
			entry.Gens = append([]int(nil), track.Gens[agent]...)
		}
		for i, y := range ys {
			entry.Fitness[i] = finite(y)
		}
		out.Agents[agent] = entry
	}
	return out
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), artifacts.Summary); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, tracksFile), NewTrackFile(artifacts.Final.Track)); err != nil {
		return "", err
	}
	if err := WriteOverlays(filepath.Join(runDir, overlaysFile), artifacts.Final); err != nil {
		return "", err
	}
	if err := WriteTrackSeries(filepath.Join(runDir, trackSeriesFile), artifacts.Final.Track); err != nil {
		return "", err
	}
	return runDir, nil
}

// WriteOverlays flattens every operator overlay of a snapshot into
// agent,generation,fitness,operator,degree rows. Fitness is empty when the
// agent had no pocket entry for that generation.
func WriteOverlays(path string, snap model.Snapshot) error {
	return createFile(path, func(w io.Writer) error {
		return writeOverlays(w, snap)
	})
}

func writeOverlays(w io.Writer, snap model.Snapshot) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"agent", "generation", "fitness", "operator", "degree"}); err != nil {
		return err
	}
	for _, overlay := range []model.Overlay{snap.Mutation, snap.LocalSearch, snap.BubbleUp, snap.Recombination} {
		for agent := range overlay.Xs {
			for _, point := range trace.Points(overlay, agent) {
				fitness := ""
				if point.HasFitness {
					fitness = strconv.FormatFloat(point.Fitness, 'g', -1, 64)
				}
				degree := ""
				if point.HasDegree {
					degree = trace.DegreeLabel(point.Degree)
				}
				if err := writer.Write([]string{
					strconv.Itoa(agent),
					strconv.Itoa(point.Generation),
					fitness,
					string(overlay.Operator),
					degree,
				}); err != nil {
					return err
				}
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// OverlayRow is one parsed line of overlays.csv.
type OverlayRow struct {
	Agent      int
	Generation int
	Fitness    *float64
	Operator   model.EventType
	Degree     string
}

func ReadOverlays(baseDir, runID string) ([]OverlayRow, bool, error) {
	path := filepath.Join(baseDir, runID, overlaysFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []OverlayRow{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 5 {
		return nil, false, fmt.Errorf("overlay header must have 5 columns")
	}

	rows := make([]OverlayRow, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 5 {
			return nil, false, fmt.Errorf("overlay row must have 5 columns")
		}
		agent, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, false, err
		}
		gen, err := strconv.Atoi(record[1])
		if err != nil {
			return nil, false, err
		}
		row := OverlayRow{Agent: agent, Generation: gen, Operator: model.EventType(record[3]), Degree: record[4]}
		if record[2] != "" {
			value, err := strconv.ParseFloat(record[2], 64)
			if err != nil {
				return nil, false, err
			}
			row.Fitness = &value
		}
		rows = append(rows, row)
	}
	return rows, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns indexed runs newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}
	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, summaryFile, tracksFile, overlaysFile, trackSeriesFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	animationPath := filepath.Join(src, AnimationFile)
	if _, err := os.Stat(animationPath); err == nil {
		if err := copyFile(animationPath, filepath.Join(dst, AnimationFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}
	return dst, nil
}

func ReadRunSummary(baseDir, runID string) (RunSummary, bool, error) {
	var summary RunSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, summaryFile), &summary)
	return summary, ok, err
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadTrackFile(baseDir, runID string) (TrackFile, bool, error) {
	var tracks TrackFile
	ok, err := readJSON(filepath.Join(baseDir, runID, tracksFile), &tracks)
	return tracks, ok, err
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return createFile(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// createFile runs write against a new file at path. The file is removed when
// write or Close fails, so callers never leave a truncated artifact behind.
func createFile(path string, write func(io.Writer) error) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	if err := write(file); err != nil {
		return err
	}
	return file.Sync()
}

func finite(value float64) *float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return &value
}

func countAt(xs [][]int, agent int) int {
	if agent < 0 || agent >= len(xs) {
		return 0
	}
	return len(xs[agent])
}

// SanitizeToken reduces a free-form name to letters, digits and underscores.
func SanitizeToken(value string) string {
	var b strings.Builder
	for _, r := range value {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	token := strings.Trim(b.String(), "_")
	if token == "" {
		return "unknown"
	}
	return token
}
