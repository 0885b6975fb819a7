// Package engine assembles the full search stack: acquisition source, bio
// adapter, predictor network, fusion searcher, reinforcement coordinator and
// the persistence store. The engine owns the background tasks and exposes the
// mining loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hnse/internal/acquire"
	"hnse/internal/bio"
	"hnse/internal/config"
	"hnse/internal/fusion"
	"hnse/internal/model"
	"hnse/internal/predictor"
	"hnse/internal/reinforce"
	"hnse/internal/storage"
)

var (
	// ErrPersistenceMismatch reports persisted state whose network topology
	// does not match the running configuration.
	ErrPersistenceMismatch = errors.New("persisted state does not match configuration")
	// ErrStateNotFound reports a load for an unknown state id.
	ErrStateNotFound = errors.New("persisted state not found")
)

// retroEpochs is the replay depth used when a mining run ends with a
// converged network.
const retroEpochs = 10

// Engine runs mining cycles against a block header stream. All predictor
// mutation flows through the coordinator; the engine itself only snapshots.
type Engine struct {
	cfg      config.Config
	source   acquire.Source
	adapter  bio.Adapter
	searcher *fusion.Searcher
	coord    *reinforce.Coordinator
	store    storage.Store
	sup      *Supervisor
}

// Summary aggregates one mining run.
type Summary struct {
	RunID      string                                     `json:"run_id"`
	Cycles     int                                        `json:"cycles"`
	Successes  int                                        `json:"successes"`
	Selections map[model.Producer]int                     `json:"selections"`
	Weights    model.FusionWeights                        `json:"weights"`
	Counters   map[model.Producer]model.ProducerCounter   `json:"counters"`
	Retrained  bool                                       `json:"retrained"`
	LastDigest string                                     `json:"last_digest,omitempty"`
}

// Stats is the engine's observable state between runs.
type Stats struct {
	Weights        model.FusionWeights                      `json:"weights"`
	Counters       map[model.Producer]model.ProducerCounter `json:"counters"`
	Efficiency     map[model.Producer]float64               `json:"efficiency"`
	RejectedFrames uint64                                   `json:"rejected_frames"`
	Bio            *bio.Diagnostics                         `json:"bio,omitempty"`
	Tasks          []TaskStatus                             `json:"tasks"`
}

// New builds an engine from a validated config. adapter may be nil; the bio
// producer then degrades to zero-confidence candidates.
func New(cfg config.Config, source acquire.Source, adapter bio.Adapter, store storage.Store, seed int64) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, errors.New("acquisition source is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}

	net, err := predictor.New(predictor.Config{
		InputSize:         model.ElectrodeCount,
		OutputSize:        model.NonceBits,
		Hidden:            cfg.HiddenLayers,
		LearningRate:      cfg.LearningRate,
		RetroLearningRate: cfg.RetroLearningRate,
		Decay:             cfg.Decay,
		Momentum:          cfg.Momentum,
		Adaptation:        true,
		Seed:              seed,
	})
	if err != nil {
		return nil, fmt.Errorf("configure predictor: %w", err)
	}

	opts, err := fusion.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	coord := reinforce.New(cfg, net, adapter)
	return &Engine{
		cfg:      cfg,
		source:   source,
		adapter:  adapter,
		searcher: fusion.NewSearcher(opts, adapter, coord),
		coord:    coord,
		store:    store,
		sup:      NewSupervisor(SupervisorPolicy{}),
	}, nil
}

// Start initializes the store and launches the acquisition and reinforcement
// tasks under the supervisor. Idempotent task names make a second Start fail.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	err := e.sup.Start("acquisition", RestartOnError, func(taskCtx context.Context) error {
		if err := e.source.Start(taskCtx, e.cfg.SamplingRate); err != nil {
			return err
		}
		<-taskCtx.Done()
		return e.source.Stop()
	})
	if err != nil {
		return err
	}
	if err := e.sup.Start("reinforcement", RestartOnError, e.coord.Run); err != nil {
		e.sup.Stop("acquisition")
		return err
	}
	if e.adapter != nil {
		if err := e.connectAdapter(); err != nil {
			return err
		}
	}
	return nil
}

// connectAdapter brings a fresh or faulted adapter up to streaming so the
// bio producer can stimulate. Adapters handed over already connected are left
// alone.
func (e *Engine) connectAdapter() error {
	diag := e.adapter.Diagnostic()
	if diag.State == bio.Error {
		if err := e.adapter.Reset(); err != nil {
			return fmt.Errorf("reset bio adapter: %w", err)
		}
		diag = e.adapter.Diagnostic()
	}
	if diag.State != bio.Disconnected {
		return nil
	}
	type connector interface {
		Connect() error
		StartStreaming() error
	}
	c, ok := e.adapter.(connector)
	if !ok {
		return nil
	}
	if err := c.Connect(); err != nil {
		return fmt.Errorf("connect bio adapter: %w", err)
	}
	if err := c.StartStreaming(); err != nil {
		return fmt.Errorf("start bio streaming: %w", err)
	}
	return nil
}

// Stop cancels the background tasks and waits for the coordinator to drain
// its outcome queue.
func (e *Engine) Stop() {
	e.sup.StopAll()
	_ = e.source.Stop()
}

// MineCycle runs a single cycle: snapshot the network, race the three
// producers, feed the outcome back and archive the summary.
func (e *Engine) MineCycle(ctx context.Context, runID string, header model.BlockHeader) (fusion.Result, error) {
	signals := e.latestSignals()
	snapshot := e.coord.NetworkSnapshot()

	result, err := e.searcher.RunCycle(ctx, header, snapshot, e.coord.Weights(), signals)
	if err != nil {
		return fusion.Result{}, err
	}

	e.coord.Observe(model.OutcomeRecord{
		Triple:          result.Triple,
		Success:         result.Success,
		WinningNonce:    result.WinningNonce,
		WinningProducer: result.WinningProducer,
		Features:        result.Features,
		TimestampMicros: result.TimestampMicros,
	})

	summary := model.CycleSummary{
		RunID:           runID,
		CycleID:         result.Triple.CycleID,
		Selected:        result.Triple.Selected,
		Success:         result.Success,
		WinningProducer: result.WinningProducer,
		WinningNonce:    result.WinningNonce,
		FusedConfidence: result.Triple.FusedConfidence,
		TimestampMicros: result.TimestampMicros,
	}
	if err := e.store.SaveCycleSummary(ctx, runID, summary); err != nil {
		return fusion.Result{}, fmt.Errorf("archive cycle %s: %w", summary.CycleID, err)
	}
	return result, nil
}

// Mine runs up to cycles mining cycles against the header, stopping early
// when the context ends. A converged network triggers a retro-training replay
// at the end of the run.
func (e *Engine) Mine(ctx context.Context, runID string, header model.BlockHeader, cycles int) (Summary, error) {
	if cycles <= 0 {
		cycles = 1
	}
	summary := Summary{
		RunID:      runID,
		Selections: make(map[model.Producer]int),
	}
	for i := 0; i < cycles; i++ {
		if ctx.Err() != nil {
			break
		}
		result, err := e.MineCycle(ctx, runID, header)
		if err != nil {
			return Summary{}, err
		}
		summary.Cycles++
		summary.Selections[result.Triple.Selected]++
		if result.Success {
			summary.Successes++
			summary.LastDigest = result.DigestHex
		}
	}

	ran, _ := e.coord.MaybeRetrotrain(retroEpochs)
	summary.Retrained = ran
	summary.Weights = e.coord.Weights()
	summary.Counters = e.coord.Counters()
	return summary, nil
}

// Stats reports the current weights, counters, efficiencies and task health.
func (e *Engine) Stats() Stats {
	stats := Stats{
		Weights:  e.coord.Weights(),
		Counters: e.coord.Counters(),
		Efficiency: map[model.Producer]float64{
			model.ProducerSHA256:  e.coord.Efficiency(model.ProducerSHA256),
			model.ProducerNetwork: e.coord.Efficiency(model.ProducerNetwork),
			model.ProducerBio:     e.coord.Efficiency(model.ProducerBio),
		},
		RejectedFrames: e.source.Rejected(),
		Tasks:          e.sup.Children(),
	}
	if e.adapter != nil {
		diag := e.adapter.Diagnostic()
		stats.Bio = &diag
	}
	return stats
}

// SaveState persists the network topology, weights, fusion state and the
// training ring under id.
func (e *Engine) SaveState(ctx context.Context, id string) error {
	snapshot := e.coord.NetworkSnapshot()
	weights, strengths, thresholds := snapshot.ExportState()
	state := model.PersistedState{
		VersionedRecord:   storage.NewVersionedRecord(),
		ID:                id,
		LayerSizes:        snapshot.LayerSizes(),
		Weights:           weights,
		SynapticStrengths: strengths,
		Thresholds:        thresholds,
		FusionWeights:     e.coord.Weights(),
		Counters:          e.coord.Counters(),
		TimestampMicros:   time.Now().UnixMicro(),
	}
	if err := e.store.SaveState(ctx, state); err != nil {
		return fmt.Errorf("save state %s: %w", id, err)
	}
	if err := e.store.SaveTrainingExamples(ctx, id, e.coord.TrainingExamples()); err != nil {
		return fmt.Errorf("save training examples %s: %w", id, err)
	}
	return nil
}

// LoadState restores a previously saved state. The persisted layer sizes must
// match the running topology exactly.
func (e *Engine) LoadState(ctx context.Context, id string) error {
	state, ok, err := e.store.GetState(ctx, id)
	if err != nil {
		return fmt.Errorf("load state %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrStateNotFound, id)
	}

	running := e.coord.NetworkSnapshot().LayerSizes()
	if !equalInts(state.LayerSizes, running) {
		return fmt.Errorf("%w: persisted layers %v, running %v", ErrPersistenceMismatch, state.LayerSizes, running)
	}
	if err := e.coord.RestoreNetwork(state.Weights, state.SynapticStrengths, state.Thresholds); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceMismatch, err)
	}
	e.coord.SetWeights(state.FusionWeights)
	e.coord.SetCounters(state.Counters)

	// States written before the training ring was persisted have no examples
	// row; the ring then keeps whatever the coordinator already holds.
	examples, ok, err := e.store.GetTrainingExamples(ctx, id)
	if err != nil {
		return fmt.Errorf("load training examples %s: %w", id, err)
	}
	if ok {
		e.coord.SetTrainingExamples(examples)
	}
	return nil
}

// latestSignals drains the frame queue and returns the freshest frame's
// voltages, or nil when no frame is queued.
func (e *Engine) latestSignals() []float64 {
	var frame model.ElectrodeFrame
	seen := false
	for {
		select {
		case f := <-e.source.Frames():
			frame = f
			seen = true
		default:
			if !seen {
				return nil
			}
			signals := make([]float64, len(frame.Channels))
			for i, ch := range frame.Channels {
				signals[i] = ch.Voltage
			}
			return signals
		}
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
