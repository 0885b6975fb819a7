package storage

import (
	"context"

	"hnse/internal/model"
)

// Store persists engine state snapshots, per-run cycle summaries, and the
// training ring between runs.
type Store interface {
	Init(ctx context.Context) error
	SaveState(ctx context.Context, state model.PersistedState) error
	GetState(ctx context.Context, id string) (model.PersistedState, bool, error)
	SaveCycleSummary(ctx context.Context, runID string, summary model.CycleSummary) error
	GetCycleSummaries(ctx context.Context, runID string) ([]model.CycleSummary, bool, error)
	SaveTrainingExamples(ctx context.Context, runID string, examples []model.TrainingExample) error
	GetTrainingExamples(ctx context.Context, runID string) ([]model.TrainingExample, bool, error)
}
