package fusion

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hnse/internal/bio"
	"hnse/internal/config"
	"hnse/internal/feature"
	"hnse/internal/model"
	"hnse/internal/predictor"
)

// Predictor is the network-producer contract. The searcher is handed a
// per-cycle snapshot so the forward pass never races the reinforcement
// coordinator's writes.
type Predictor interface {
	PredictNonce(features, signals []float64) (model.Candidate, error)
}

// Options configures the searcher.
type Options struct {
	Policy     string
	Target     Target
	Timeout    time.Duration
	MaxVoltage float64
	// MinConfidence holds the per-producer selection floors.
	MinConfidence map[model.Producer]float64
}

// OptionsFromConfig derives searcher options from a validated config.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	target, err := TargetFromConfig(cfg)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Policy:     cfg.FusionPolicy,
		Target:     target,
		Timeout:    time.Duration(cfg.CycleTimeoutMs) * time.Millisecond,
		MaxVoltage: cfg.StimulusMaxVoltage,
		MinConfidence: map[model.Producer]float64{
			model.ProducerSHA256:  cfg.MinConfidenceSha,
			model.ProducerNetwork: cfg.MinConfidenceNetwork,
			model.ProducerBio:     cfg.MinConfidenceBio,
		},
	}, nil
}

// Result is one finished mining cycle. A failed validation is a negative
// outcome, not an error.
type Result struct {
	Triple          model.TripleCandidate
	Features        []float64
	Stimulus        model.StimulusPattern
	Success         bool
	WinningNonce    uint32
	WinningProducer model.Producer
	DigestHex       string
	TimestampMicros int64
}

// Searcher runs mining cycles: three concurrent producers, fusion, method
// selection and validation.
type Searcher struct {
	opts    Options
	adapter bio.Adapter
	eff     EfficiencySource
}

// NewSearcher builds a searcher. adapter may be nil (the bio producer then
// always contributes a zero-confidence candidate); eff may be nil (every
// producer is treated as 0.5-efficient).
func NewSearcher(opts Options, adapter bio.Adapter, eff EfficiencySource) *Searcher {
	if eff == nil {
		eff = neutralEfficiency{}
	}
	return &Searcher{opts: opts, adapter: adapter, eff: eff}
}

// RunCycle executes one cycle against the header. signals carries the most
// recent electrode voltages (may be nil); weights are the current fusion
// weights read at cycle start.
func (s *Searcher) RunCycle(ctx context.Context, header model.BlockHeader, net Predictor, weights model.FusionWeights, signals []float64) (Result, error) {
	features := feature.Extract(header, s.opts.Target.Difficulty())
	stimulus := feature.ToStimulus(features, s.opts.MaxVoltage)

	cycleCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var sha, network, bioCand model.Candidate
	elapsed := make(map[model.Producer]int64, 3)
	var shaMicros, netMicros, bioMicros int64

	group, groupCtx := errgroup.WithContext(cycleCtx)
	group.Go(func() error {
		sha, shaMicros = runProducer(groupCtx, model.ProducerSHA256, func() model.Candidate {
			return SHACandidate(header)
		})
		return nil
	})
	group.Go(func() error {
		network, netMicros = runProducer(groupCtx, model.ProducerNetwork, func() model.Candidate {
			if net == nil {
				return model.Candidate{Producer: model.ProducerNetwork}
			}
			candidate, err := net.PredictNonce(features, signals)
			if err != nil {
				return model.Candidate{Producer: model.ProducerNetwork}
			}
			return candidate
		})
		return nil
	})
	group.Go(func() error {
		bioCand, bioMicros = runProducer(groupCtx, model.ProducerBio, func() model.Candidate {
			return s.bioCandidate(groupCtx, stimulus)
		})
		return nil
	})
	// Producer failures surface as zero-confidence candidates, never as
	// group errors.
	_ = group.Wait()

	elapsed[model.ProducerSHA256] = shaMicros
	elapsed[model.ProducerNetwork] = netMicros
	elapsed[model.ProducerBio] = bioMicros

	sha.Confidence = clamp01(sha.Confidence)
	network.Confidence = clamp01(network.Confidence)
	bioCand.Confidence = clamp01(bioCand.Confidence)

	fusedNonce, fusedConfidence, err := Fuse(s.opts.Policy, sha, network, bioCand, weights, s.eff)
	if err != nil {
		return Result{}, err
	}

	triple := model.TripleCandidate{
		CycleID:         uuid.NewString(),
		SHA:             sha,
		Network:         network,
		Bio:             bioCand,
		FusedNonce:      fusedNonce,
		FusedConfidence: fusedConfidence,
		ElapsedMicros:   elapsed,
	}
	triple.Selected = s.selectMethod(triple)

	result := Result{
		Triple:          triple,
		Features:        features,
		Stimulus:        stimulus,
		TimestampMicros: time.Now().UnixMicro(),
	}
	s.validate(header, &result)
	return result, nil
}

// bioCandidate runs the stimulate/capture round. Any adapter unavailability
// degrades to a zero-confidence candidate.
func (s *Searcher) bioCandidate(ctx context.Context, stimulus model.StimulusPattern) model.Candidate {
	if s.adapter == nil {
		return model.Candidate{Producer: model.ProducerBio}
	}
	response := s.adapter.StimulateAndCapture(ctx, stimulus)
	if !response.Valid {
		return model.Candidate{Producer: model.ProducerBio}
	}
	return model.Candidate{
		Nonce:      predictor.NonceFromSignals(response.Samples),
		Confidence: clamp01(response.Strength),
		Producer:   model.ProducerBio,
	}
}

// selectMethod picks the producer with the highest confidence × efficiency
// score among those meeting their confidence floor. Ties break on higher
// confidence, then lower elapsed time, then fixed producer priority. With no
// qualifying producer the fused candidate is selected.
func (s *Searcher) selectMethod(triple model.TripleCandidate) model.Producer {
	selected := model.ProducerFusion
	bestScore := -1.0
	bestConfidence := -1.0
	bestElapsed := int64(0)

	for _, p := range model.Producers() {
		candidate := triple.ByProducer(p)
		if candidate.Confidence < s.opts.MinConfidence[p] {
			continue
		}
		score := candidate.Confidence * s.eff.Efficiency(p)
		elapsedMicros := triple.ElapsedMicros[p]
		better := score > bestScore
		if !better && score == bestScore {
			if candidate.Confidence > bestConfidence {
				better = true
			} else if candidate.Confidence == bestConfidence && elapsedMicros < bestElapsed {
				better = true
			}
		}
		if better {
			selected = p
			bestScore = score
			bestConfidence = candidate.Confidence
			bestElapsed = elapsedMicros
		}
	}
	return selected
}

// validate tries the selected candidate first, then the remaining candidates
// in the fixed {Fusion, SHA, Network, Bio} order.
func (s *Searcher) validate(header model.BlockHeader, result *Result) {
	order := []model.Producer{result.Triple.Selected, model.ProducerFusion,
		model.ProducerSHA256, model.ProducerNetwork, model.ProducerBio}
	tried := make(map[model.Producer]bool, len(order))
	for _, p := range order {
		if tried[p] {
			continue
		}
		tried[p] = true
		candidate := result.Triple.ByProducer(p)
		ok, digest := s.opts.Target.Validate(header, candidate.Nonce)
		if ok {
			result.Success = true
			result.WinningNonce = candidate.Nonce
			result.WinningProducer = p
			result.DigestHex = hex.EncodeToString(digest[:])
			return
		}
	}
}

// runProducer races the producer body against the cycle deadline. A producer
// that misses the deadline contributes a zero-confidence candidate and is
// not awaited further.
func runProducer(ctx context.Context, tag model.Producer, body func() model.Candidate) (model.Candidate, int64) {
	started := time.Now()
	done := make(chan model.Candidate, 1)
	go func() {
		done <- body()
	}()
	select {
	case candidate := <-done:
		candidate.Producer = tag
		return candidate, time.Since(started).Microseconds()
	case <-ctx.Done():
		return model.Candidate{Producer: tag}, time.Since(started).Microseconds()
	}
}
