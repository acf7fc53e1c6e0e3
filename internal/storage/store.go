package storage

import (
	"context"

	"evoviz/internal/model"
)

// Store persists processed runs and the digest of each of their snapshots.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	DeleteRun(ctx context.Context, runID string) error
	SaveSnapshots(ctx context.Context, runID string, snapshots []model.SnapshotRecord) error
	GetSnapshots(ctx context.Context, runID string) ([]model.SnapshotRecord, bool, error)
}
