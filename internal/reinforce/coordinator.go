// Package reinforce closes the feedback loop: it consumes cycle outcomes,
// maintains per-producer statistics and fusion weights, and applies all
// training updates to the predictor network. It is the network's only
// writer.
package reinforce

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"hnse/internal/bio"
	"hnse/internal/config"
	"hnse/internal/feature"
	"hnse/internal/model"
	"hnse/internal/predictor"
)

const (
	// efficiencyWindow is the selection window efficiency is computed over.
	efficiencyWindow = 100
	// efficiencyMinSamples is the sample floor below which efficiency
	// defaults to 0.5.
	efficiencyMinSamples = 10
	// highConfidence marks a selected method whose failure triggers
	// weakening.
	highConfidence = 0.7
	// crossTrainEpochs is how many times a bio-won example is replayed
	// into the network.
	crossTrainEpochs = 4

	defaultQueueDepth = 128
)

// selection is one method-selection observation in the sliding window.
type selection struct {
	producer model.Producer
	success  bool
}

// Coordinator consumes (triple, outcome) pairs from a single-consumer queue.
type Coordinator struct {
	mu sync.RWMutex

	net     *predictor.Network
	adapter bio.Adapter

	policy         string
	adaptEvery     int
	adaptationRate float64
	historyDepth   int
	maxVoltage     float64

	weights    model.FusionWeights
	counters   map[model.Producer]model.ProducerCounter
	selections []selection
	history    []model.OutcomeRecord
	training   []model.TrainingExample
	cycleCount int

	outcomes chan model.OutcomeRecord
	running  atomic.Bool
}

// New wires a coordinator around the network it owns and an optional bio
// adapter for reverse cross-training. Initial fusion weights come from the
// config, normalized immediately.
func New(cfg config.Config, net *predictor.Network, adapter bio.Adapter) *Coordinator {
	return &Coordinator{
		net:            net,
		adapter:        adapter,
		policy:         cfg.FusionPolicy,
		adaptEvery:     cfg.WeightAdaptEvery,
		adaptationRate: cfg.AdaptationRate,
		historyDepth:   cfg.HistoryDepth,
		maxVoltage:     cfg.StimulusMaxVoltage,
		weights:        cfg.NormalizedWeights(),
		counters:       make(map[model.Producer]model.ProducerCounter),
		outcomes:       make(chan model.OutcomeRecord, defaultQueueDepth),
	}
}

// Observe hands one outcome to the coordinator. While Run is consuming, the
// outcome is queued; otherwise it is applied synchronously on the caller's
// goroutine.
func (c *Coordinator) Observe(record model.OutcomeRecord) {
	if c.running.Load() {
		c.outcomes <- record
		return
	}
	c.process(record)
}

// Run consumes outcomes until the context ends, then drains whatever is
// still queued before returning.
func (c *Coordinator) Run(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)
	for {
		select {
		case record := <-c.outcomes:
			c.process(record)
		case <-ctx.Done():
			for {
				select {
				case record := <-c.outcomes:
					c.process(record)
				default:
					return nil
				}
			}
		}
	}
}

// process applies one outcome: statistics, reinforcement or weakening,
// cross-training, and periodic weight adaptation. Updates are serialized by
// the coordinator lock; outcome order is the observation order.
func (c *Coordinator) process(record model.OutcomeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	selected := record.Triple.Selected
	counter := c.counters[selected]
	counter.Selections++
	if record.Success && record.WinningProducer == selected {
		counter.Successes++
	}
	c.counters[selected] = counter
	if record.Success && record.WinningProducer != selected {
		winner := c.counters[record.WinningProducer]
		winner.Successes++
		c.counters[record.WinningProducer] = winner
	}

	c.selections = appendBounded(c.selections, selection{
		producer: selected,
		success:  record.Success && record.WinningProducer == selected,
	}, efficiencyWindow)
	c.history = appendBounded(c.history, record, c.historyDepth)

	// Producers forward on snapshots, so the owned network's convergence
	// window is fed here from the observed cycle.
	c.net.RecordConfidence(record.Triple.Network.Confidence)

	if record.Success {
		c.reinforce(record)
	} else if record.Triple.ByProducer(selected).Confidence >= highConfidence {
		c.net.WeakenOverconfidence()
	}

	c.cycleCount++
	if c.policy == config.PolicyAdaptive && c.adaptEvery > 0 && c.cycleCount%c.adaptEvery == 0 {
		c.adaptWeights()
	}
}

// reinforce rewards a successful cycle: strengthen the network's active
// pathways, remember the example, and cross-train the producer pair.
func (c *Coordinator) reinforce(record model.OutcomeRecord) {
	c.net.ReinforceSuccess()

	example := model.TrainingExample{
		Input:           record.Features,
		Target:          predictor.NonceToBits(record.WinningNonce),
		Nonce:           record.WinningNonce,
		Success:         true,
		Score:           record.Triple.ByProducer(record.WinningProducer).Confidence,
		TimestampMicros: record.TimestampMicros,
	}
	c.training = appendBounded(c.training, example, c.historyDepth)

	switch record.WinningProducer {
	case model.ProducerBio:
		// The culture found the nonce: teach the network the same mapping.
		for i := 0; i < crossTrainEpochs; i++ {
			if err := c.net.Train(example); err != nil {
				slog.Warn("cross-training failed", "err", err)
				break
			}
		}
	case model.ProducerNetwork:
		// The network found it: replay the stimulus into the culture.
		if c.adapter != nil {
			stimulus := feature.ToStimulus(record.Features, c.maxVoltage)
			if err := c.adapter.ReinforcePattern(stimulus, record.WinningNonce, example.Score); err != nil {
				slog.Warn("bio reinforcement failed", "err", err)
			}
		}
	}
}

// adaptWeights blends the current fusion weights toward the efficiency
// distribution: new = alpha*current + (1-alpha)*candidate, renormalized.
func (c *Coordinator) adaptWeights() {
	eff := model.FusionWeights{
		SHA:     c.efficiencyLocked(model.ProducerSHA256),
		Network: c.efficiencyLocked(model.ProducerNetwork),
		Bio:     c.efficiencyLocked(model.ProducerBio),
	}
	candidate := eff.Normalized()
	alpha := c.adaptationRate
	c.weights = model.FusionWeights{
		SHA:     alpha*c.weights.SHA + (1-alpha)*candidate.SHA,
		Network: alpha*c.weights.Network + (1-alpha)*candidate.Network,
		Bio:     alpha*c.weights.Bio + (1-alpha)*candidate.Bio,
	}.Normalized()
}

// Efficiency is the success rate of p over the recent selection window,
// defaulting to 0.5 while samples are few. Implements the searcher's
// efficiency source.
func (c *Coordinator) Efficiency(p model.Producer) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.efficiencyLocked(p)
}

func (c *Coordinator) efficiencyLocked(p model.Producer) float64 {
	total := 0
	successes := 0
	for _, sel := range c.selections {
		if sel.producer != p {
			continue
		}
		total++
		if sel.success {
			successes++
		}
	}
	if total < efficiencyMinSamples {
		return 0.5
	}
	return float64(successes) / float64(total)
}

// NetworkSnapshot returns an independent copy of the predictor network for
// read-only evaluation. Taken under the coordinator lock so it never observes
// a half-applied update.
func (c *Coordinator) NetworkSnapshot() *predictor.Network {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.net.Snapshot()
}

// RestoreNetwork replaces the network's weights, strengths and thresholds
// from persisted state. Serialized with training updates.
func (c *Coordinator) RestoreNetwork(weights, strengths [][][]float64, thresholds [][]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.ImportState(weights, strengths, thresholds)
}

// Weights returns the current fusion weights.
func (c *Coordinator) Weights() model.FusionWeights {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.weights
}

// SetWeights replaces the fusion weights, normalizing first. Used when
// restoring persisted state.
func (c *Coordinator) SetWeights(w model.FusionWeights) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.weights = w.Normalized()
}

// Counters returns a copy of the lifetime per-producer counters.
func (c *Coordinator) Counters() map[model.Producer]model.ProducerCounter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[model.Producer]model.ProducerCounter, len(c.counters))
	for p, counter := range c.counters {
		out[p] = counter
	}
	return out
}

// SetCounters replaces the lifetime counters. Used when restoring persisted
// state.
func (c *Coordinator) SetCounters(counters map[model.Producer]model.ProducerCounter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[model.Producer]model.ProducerCounter, len(counters))
	for p, counter := range counters {
		c.counters[p] = counter
	}
}

// History returns a snapshot of the outcome history, oldest first.
func (c *Coordinator) History() []model.OutcomeRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.OutcomeRecord(nil), c.history...)
}

// TrainingExamples returns a snapshot of the training ring, oldest first.
func (c *Coordinator) TrainingExamples() []model.TrainingExample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.TrainingExample(nil), c.training...)
}

// SetTrainingExamples replaces the training ring, keeping the newest
// historyDepth entries. Used when restoring persisted state.
func (c *Coordinator) SetTrainingExamples(examples []model.TrainingExample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.training = append([]model.TrainingExample(nil), examples...)
	if c.historyDepth > 0 && len(c.training) > c.historyDepth {
		c.training = c.training[len(c.training)-c.historyDepth:]
	}
}

// MaybeRetrotrain replays the training ring at the retroactive learning rate
// when the network reports convergence. Reports whether a replay ran and
// whether it improved the examples.
func (c *Coordinator) MaybeRetrotrain(epochs int) (ran, improved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.net.Converged() || len(c.training) == 0 {
		return false, false
	}
	improved, err := c.net.Retrotrain(c.training, epochs)
	if err != nil {
		slog.Warn("retro-training failed", "err", err)
		return false, false
	}
	return true, improved
}

// appendBounded appends v and trims the slice to its newest max entries.
func appendBounded[T any](s []T, v T, max int) []T {
	s = append(s, v)
	if max > 0 && len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
