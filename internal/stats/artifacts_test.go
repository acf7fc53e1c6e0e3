package stats

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"evoviz/internal/model"
)

func finalSnapshot() model.Snapshot {
	snap := model.Snapshot{
		Generation: 2,
		Cutoff:     3,
		Final:      true,
		Track: model.FitnessTrack{
			X:    []int{0, 1, 2},
			Ys:   [][]float64{{10, 8, 7}, {12, math.NaN()}, nil},
			Gens: [][]int{{0, 1, 2}, {0, 1}, nil},
		},
		Mutation: model.Overlay{
			Operator: model.EventCurrentMutate,
			Xs:       [][]int{{1}, {2}, nil},
			Ys:       [][]float64{{8}, nil, nil},
			Misses:   1,
		},
		BubbleUp: model.Overlay{
			Operator: model.EventBubbleUp,
			Xs:       [][]int{{2}, nil, nil},
			Ys:       [][]float64{{7}, nil, nil},
			Degrees:  [][]model.Degree{{model.DegreeCenter}, nil, nil},
		},
		DegreeCounts: [][3]int{{0, 1, 0}, {}, {}},
	}
	return snap
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := NewRunID()
	if _, err := uuid.Parse(runID); err != nil {
		t.Fatalf("run id is not a uuid: %v", err)
	}
	snap := finalSnapshot()
	agents := SummarizeAgents(snap)
	artifacts := RunArtifacts{
		Config: RunConfig{RunID: runID, LogPath: "seed1.Master.log", Slots: 3, CadenceEvery: 20, CadenceFirst: 1, FPS: 1, ClosingPad: 2},
		Summary: RunSummary{
			RunID:       runID,
			LogPath:     "seed1.Master.log",
			Generations: 3,
			Agents:      agents,
			BestFitness: BestFitness(agents),
		},
		Final: snap,
	}

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	files := []string{configFile, summaryFile, tracksFile, overlaysFile, trackSeriesFile}
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(exportedDir, AnimationFile)); !os.IsNotExist(err) {
		t.Fatalf("did not expect an animation without a source gif: %v", err)
	}

	if err := os.WriteFile(filepath.Join(runDir, AnimationFile), []byte("GIF89a"), 0o644); err != nil {
		t.Fatalf("write gif: %v", err)
	}
	exportedDir, err = ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export with animation: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exportedDir, AnimationFile)); err != nil {
		t.Fatalf("expected exported animation: %v", err)
	}

	summary, ok, err := ReadRunSummary(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read summary: ok=%v err=%v", ok, err)
	}
	if summary.BestFitness == nil || *summary.BestFitness != 7 {
		t.Fatalf("unexpected best fitness: %v", summary.BestFitness)
	}
	cfg, ok, err := ReadRunConfig(baseDir, runID)
	if err != nil || !ok || cfg.ClosingPad != 2 {
		t.Fatalf("unexpected config: %+v ok=%v err=%v", cfg, ok, err)
	}
}

func TestSummarizeAgents(t *testing.T) {
	agents := SummarizeAgents(finalSnapshot())
	if len(agents) != 3 {
		t.Fatalf("unexpected agent count: %d", len(agents))
	}
	if agents[0].Points != 3 || agents[0].Mutations != 1 || agents[0].BubbleUps != 1 || agents[0].DegreeCounts != [3]int{0, 1, 0} {
		t.Fatalf("unexpected root summary: %+v", agents[0])
	}
	if agents[1].FinalFitness != nil {
		t.Fatalf("expected nil final fitness for NaN pocket, got %v", *agents[1].FinalFitness)
	}
	if agents[2].Points != 0 || agents[2].FinalFitness != nil {
		t.Fatalf("unexpected empty agent summary: %+v", agents[2])
	}
}

func TestTrackFileEncodesNaNAsNull(t *testing.T) {
	data, err := json.Marshal(NewTrackFile(finalSnapshot().Track))
	if err != nil {
		t.Fatalf("marshal track file: %v", err)
	}
	if !strings.Contains(string(data), `"fitness":[12,null]`) {
		t.Fatalf("expected null for NaN fitness: %s", data)
	}
}

func TestOverlaysRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	runDir := filepath.Join(baseDir, "run-1")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := WriteOverlays(filepath.Join(runDir, overlaysFile), finalSnapshot()); err != nil {
		t.Fatalf("write overlays: %v", err)
	}

	rows, ok, err := ReadOverlays(baseDir, "run-1")
	if err != nil || !ok {
		t.Fatalf("read overlays: ok=%v err=%v", ok, err)
	}
	if len(rows) != 3 {
		t.Fatalf("unexpected row count: %d", len(rows))
	}
	if rows[0].Agent != 0 || rows[0].Generation != 1 || rows[0].Fitness == nil || *rows[0].Fitness != 8 {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Agent != 1 || rows[1].Fitness != nil {
		t.Fatalf("expected missing fitness for agent 1: %+v", rows[1])
	}
	if rows[2].Operator != model.EventBubbleUp || rows[2].Degree != "center" {
		t.Fatalf("unexpected bubble-up row: %+v", rows[2])
	}

	if _, ok, err := ReadOverlays(baseDir, "missing"); ok || err != nil {
		t.Fatalf("expected missing overlays, ok=%v err=%v", ok, err)
	}
}

func TestOverlaysKeepFitnessOnItsOwnGeneration(t *testing.T) {
	baseDir := t.TempDir()
	runDir := filepath.Join(baseDir, "run-1")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	snap := model.Snapshot{
		Mutation: model.Overlay{
			Operator: model.EventCurrentMutate,
			Xs:       [][]int{{1, 2}},
			Ys:       [][]float64{{6}},
			Hit:      [][]bool{{false, true}},
			Misses:   1,
		},
	}
	if err := WriteOverlays(filepath.Join(runDir, overlaysFile), snap); err != nil {
		t.Fatalf("write overlays: %v", err)
	}

	rows, _, err := ReadOverlays(baseDir, "run-1")
	if err != nil {
		t.Fatalf("read overlays: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("unexpected row count: %d", len(rows))
	}
	if rows[0].Generation != 1 || rows[0].Fitness != nil {
		t.Fatalf("generation 1 missed its lookup and must have no fitness: %+v", rows[0])
	}
	if rows[1].Generation != 2 || rows[1].Fitness == nil || *rows[1].Fitness != 6 {
		t.Fatalf("generation 2 must carry fitness 6: %+v", rows[1])
	}
}

func TestCreateFileRemovesPartialOutputOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlays.csv")
	failure := errors.New("disk full")
	err := createFile(path, func(w io.Writer) error {
		if _, err := io.WriteString(w, "agent,generation\n0,"); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected write error, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected partial file to be removed, stat err=%v", statErr)
	}

	missingDir := filepath.Join(t.TempDir(), "missing", "tracks.dat")
	if err := WriteTrackSeries(missingDir, finalSnapshot().Track); err == nil {
		t.Fatalf("expected error writing into a missing directory")
	}
}

func TestWriteTrackSeries(t *testing.T) {
	var buf bytes.Buffer
	if err := writeTrackSeries(&buf, finalSnapshot().Track); err != nil {
		t.Fatalf("write series: %v", err)
	}
	want := "#Pocket Fitness Vs Generation, Agent:0\n0 10\n1 8\n2 7\n" +
		"\n\n#Pocket Fitness Vs Generation, Agent:1\n0 12\n1 NaN\n"
	if buf.String() != want {
		t.Fatalf("unexpected series:\n%s", buf.String())
	}
}

func TestRunIndexUpsertAndOrder(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{RunID: "b", CreatedAtUTC: "2026-01-03T00:00:00Z"},
		{RunID: "c", CreatedAtUTC: "2026-01-02T00:00:00Z"},
	}
	for _, entry := range entries {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", Generations: 40, CreatedAtUTC: "2026-01-04T00:00:00Z"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(index) != 3 {
		t.Fatalf("unexpected index size: %d", len(index))
	}
	if index[0].RunID != "a" || index[0].Generations != 40 || index[1].RunID != "b" || index[2].RunID != "c" {
		t.Fatalf("unexpected index order: %+v", index)
	}

	if err := AppendRunIndex(baseDir, RunIndexEntry{}); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("seed 7.Master"); got != "seed_7_Master" {
		t.Fatalf("unexpected token: %s", got)
	}
	if got := SanitizeToken("..."); got != "unknown" {
		t.Fatalf("unexpected token: %s", got)
	}
}
