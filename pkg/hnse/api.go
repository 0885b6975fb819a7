// Package hnse is the public surface of the hybrid nonce search engine. A
// Client owns one engine instance: acquisition, bio adapter, predictor,
// fusion searcher, reinforcement loop and the state store.
package hnse

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"hnse/internal/acquire"
	"hnse/internal/bio"
	"hnse/internal/config"
	"hnse/internal/engine"
	"hnse/internal/model"
	"hnse/internal/storage"
)

const (
	defaultDBPath  = "hnse.db"
	defaultStateID = "engine"
)

// Options configures a Client. Zero values select the defaults: the built-in
// engine configuration, the memory store, a synthetic acquisition source and
// a simulated culture.
type Options struct {
	// Config overrides the engine configuration; ConfigPath loads it from a
	// YAML file instead. Config wins when both are set.
	Config     *config.Config
	ConfigPath string

	StoreKind string
	DBPath    string

	// Seed drives the predictor initialization and the synthetic sources.
	Seed int64

	// DisableBio runs without a culture; the bio producer then contributes
	// zero-confidence candidates only.
	DisableBio bool
}

// Client is a configured engine handle.
type Client struct {
	cfg    config.Config
	store  storage.Store
	engine *engine.Engine
}

// MineRequest asks for a mining run over one block header.
type MineRequest struct {
	// RunID groups the archived cycle summaries; defaults to a fresh UUID.
	RunID string
	// Header is the pipe-delimited block header to mine.
	Header string
	// Cycles is the number of mining cycles to run; defaults to 1.
	Cycles int
}

// MineSummary reports one finished mining run.
type MineSummary struct {
	RunID      string
	Cycles     int
	Successes  int
	Selections map[model.Producer]int
	Weights    model.FusionWeights
	Retrained  bool
	LastDigest string
}

// TaskStatus is the health of one supervised background task.
type TaskStatus struct {
	Name         string
	RestartCount int
	LastError    string
	GaveUp       bool
}

// Stats is the engine's observable state.
type Stats struct {
	Weights        model.FusionWeights
	Counters       map[model.Producer]model.ProducerCounter
	Efficiency     map[model.Producer]float64
	RejectedFrames uint64
	BioState       string
	Tasks          []TaskStatus
}

// New builds a client from the options. The engine is constructed eagerly so
// configuration errors surface here, but no background task runs until Start.
func New(opts Options) (*Client, error) {
	var cfg config.Config
	switch {
	case opts.Config != nil:
		cfg = *opts.Config
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	case opts.ConfigPath != "":
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		cfg = config.Default()
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}

	var adapter bio.Adapter
	if !opts.DisableBio {
		sim, err := bio.NewSimulated(opts.Seed + 1)
		if err != nil {
			return nil, fmt.Errorf("build simulated culture: %w", err)
		}
		adapter = sim
	}

	eng, err := engine.New(cfg, acquire.NewSyntheticSource(opts.Seed), adapter, store, opts.Seed)
	if err != nil {
		return nil, err
	}

	return &Client{cfg: cfg, store: store, engine: eng}, nil
}

// Start initializes the store and launches the engine's background tasks.
func (c *Client) Start(ctx context.Context) error {
	return c.engine.Start(ctx)
}

// Close stops the background tasks and releases the store.
func (c *Client) Close() error {
	c.engine.Stop()
	return storage.CloseIfSupported(c.store)
}

// Mine runs a mining run against the requested header.
func (c *Client) Mine(ctx context.Context, req MineRequest) (MineSummary, error) {
	if req.Header == "" {
		return MineSummary{}, errors.New("header is required")
	}
	header, err := model.ParseHeader(req.Header)
	if err != nil {
		return MineSummary{}, err
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Cycles <= 0 {
		req.Cycles = 1
	}

	summary, err := c.engine.Mine(ctx, req.RunID, header, req.Cycles)
	if err != nil {
		return MineSummary{}, err
	}
	return MineSummary{
		RunID:      summary.RunID,
		Cycles:     summary.Cycles,
		Successes:  summary.Successes,
		Selections: summary.Selections,
		Weights:    summary.Weights,
		Retrained:  summary.Retrained,
		LastDigest: summary.LastDigest,
	}, nil
}

// Stats reports fusion weights, per-producer counters and efficiencies, and
// background task health.
func (c *Client) Stats() Stats {
	raw := c.engine.Stats()
	stats := Stats{
		Weights:        raw.Weights,
		Counters:       raw.Counters,
		Efficiency:     raw.Efficiency,
		RejectedFrames: raw.RejectedFrames,
	}
	if raw.Bio != nil {
		stats.BioState = raw.Bio.State.String()
	}
	for _, task := range raw.Tasks {
		stats.Tasks = append(stats.Tasks, TaskStatus{
			Name:         task.Name,
			RestartCount: task.RestartCount,
			LastError:    task.LastError,
			GaveUp:       task.GaveUp,
		})
	}
	return stats
}

// SaveState persists the predictor and fusion state under id; an empty id
// uses the default slot.
func (c *Client) SaveState(ctx context.Context, id string) error {
	if id == "" {
		id = defaultStateID
	}
	return c.engine.SaveState(ctx, id)
}

// LoadState restores a previously saved state. Topology mismatches are
// rejected with engine.ErrPersistenceMismatch.
func (c *Client) LoadState(ctx context.Context, id string) error {
	if id == "" {
		id = defaultStateID
	}
	return c.engine.LoadState(ctx, id)
}

// Config returns the effective engine configuration.
func (c *Client) Config() config.Config {
	return c.cfg
}
