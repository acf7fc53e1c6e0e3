//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"evoviz/internal/model"
)

func TestSQLiteStoreRunAndSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "evoviz.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	best := 0.25
	for _, run := range []model.RunRecord{
		{VersionedRecord: CurrentVersion(), RunID: "a", Generations: 5, CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{VersionedRecord: CurrentVersion(), RunID: "b", Generations: 9, BestFitness: &best, CreatedAtUTC: "2026-02-01T00:00:00Z"},
	} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", run.RunID, err)
		}
	}

	loaded, ok, err := store.GetRun(ctx, "b")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok || loaded.Generations != 9 || loaded.BestFitness == nil || *loaded.BestFitness != best {
		t.Fatalf("unexpected run loaded: %+v", loaded)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "b" {
		t.Fatalf("unexpected run order: %+v", runs)
	}

	snapshots := []model.SnapshotRecord{
		{VersionedRecord: CurrentVersion(), RunID: "b", Generation: 1, Cutoff: 1},
		{VersionedRecord: CurrentVersion(), RunID: "b", Generation: 8, Cutoff: 9, Final: true, DegreeCounts: [][3]int{{1, 2, 3}}},
	}
	if err := store.SaveSnapshots(ctx, "b", snapshots); err != nil {
		t.Fatalf("save snapshots: %v", err)
	}
	loadedSnapshots, ok, err := store.GetSnapshots(ctx, "b")
	if err != nil {
		t.Fatalf("get snapshots: %v", err)
	}
	if !ok || len(loadedSnapshots) != 2 || loadedSnapshots[1].DegreeCounts[0] != [3]int{1, 2, 3} {
		t.Fatalf("unexpected snapshots loaded: %+v", loadedSnapshots)
	}

	if err := store.DeleteRun(ctx, "b"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	if _, ok, err := store.GetRun(ctx, "b"); err != nil || ok {
		t.Fatalf("expected run deleted, ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.GetSnapshots(ctx, "b"); err != nil || ok {
		t.Fatalf("expected snapshots deleted, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "evoviz.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := first.SaveRun(ctx, model.RunRecord{VersionedRecord: CurrentVersion(), RunID: "persisted", CreatedAtUTC: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := NewSQLiteStore(dbPath)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})
	if _, ok, err := second.GetRun(ctx, "persisted"); err != nil || !ok {
		t.Fatalf("expected persisted run, ok=%v err=%v", ok, err)
	}
}

func TestNewStoreSQLite(t *testing.T) {
	store, err := NewStore("sqlite", filepath.Join(t.TempDir(), "factory.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close: %v", err)
	}
}
