//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"hnse/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, state model.PersistedState) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeState(state)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO engine_state (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, state.ID, state.SchemaVersion, state.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetState(ctx context.Context, id string) (model.PersistedState, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.PersistedState{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM engine_state WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PersistedState{}, false, nil
		}
		return model.PersistedState{}, false, err
	}

	state, err := DecodeState(payload)
	if err != nil {
		return model.PersistedState{}, false, fmt.Errorf("decode engine state %s: %w", id, err)
	}
	return state, true, nil
}

func (s *SQLiteStore) SaveCycleSummary(ctx context.Context, runID string, summary model.CycleSummary) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeCycleSummary(summary)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO cycle_summaries (run_id, cycle_id, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, cycle_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, summary.CycleID, payload)
	return err
}

func (s *SQLiteStore) GetCycleSummaries(ctx context.Context, runID string) ([]model.CycleSummary, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM cycle_summaries WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var summaries []model.CycleSummary
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, false, err
		}
		summary, err := DecodeCycleSummary(payload)
		if err != nil {
			return nil, false, fmt.Errorf("decode cycle summary for %s: %w", runID, err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(summaries) == 0 {
		return nil, false, nil
	}
	return summaries, true, nil
}

func (s *SQLiteStore) SaveTrainingExamples(ctx context.Context, runID string, examples []model.TrainingExample) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeTrainingExamples(examples)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO training_examples (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetTrainingExamples(ctx context.Context, runID string) ([]model.TrainingExample, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM training_examples WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	examples, err := DecodeTrainingExamples(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode training examples %s: %w", runID, err)
	}
	return examples, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS engine_state (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS cycle_summaries (
			run_id TEXT NOT NULL,
			cycle_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, cycle_id)
		);
		CREATE TABLE IF NOT EXISTS training_examples (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
