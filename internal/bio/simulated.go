package bio

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"hnse/internal/model"
	"hnse/internal/predictor"
)

// Simulated is the software stand-in for a live culture. It owns a private
// predictor network (the simulator) whose 60 outputs play the role of
// electrode responses: a stimulus runs a forward pass, a capture reads the
// output layer with bounded Gaussian perturbation, and reinforcement runs the
// simulator's backward pass.
type Simulated struct {
	mu    sync.Mutex
	state State
	net   *predictor.Network
	rng   *rand.Rand

	lastStimulus *model.StimulusPattern

	stimuli  uint64
	captures uint64
	missed   uint64
	quality  float64

	// NoiseSigma is the Gaussian spread added to captured samples;
	// NoiseBound truncates each perturbation.
	NoiseSigma float64
	NoiseBound float64
	// LearningRate drives ReinforcePattern updates, scaled by reward.
	LearningRate float64
}

// NewSimulated builds a simulated adapter in the Disconnected state.
func NewSimulated(seed int64) (*Simulated, error) {
	net, err := predictor.New(predictor.Config{
		InputSize:  model.ElectrodeCount,
		OutputSize: model.ElectrodeCount,
		Hidden:     []int{48},
		Momentum:   0.9,
		Decay:      0.95,
		Seed:       seed,
	})
	if err != nil {
		return nil, fmt.Errorf("simulator network: %w", err)
	}
	return &Simulated{
		net:          net,
		rng:          rand.New(rand.NewSource(seed)),
		NoiseSigma:   0.02,
		NoiseBound:   0.05,
		LearningRate: 0.01,
	}, nil
}

// Connect walks Disconnected → Connecting → Connected. The simulation never
// fails to connect.
func (s *Simulated) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := transition(&s.state, Connecting); err != nil {
		return err
	}
	return transition(&s.state, Connected)
}

// State returns the current lifecycle state.
func (s *Simulated) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartStreaming enters the Streaming state from Connected or Calibrating.
func (s *Simulated) StartStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transition(&s.state, Streaming)
}

// Calibrate enters the Calibrating state from Connected or Streaming.
func (s *Simulated) Calibrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transition(&s.state, Calibrating)
}

func (s *Simulated) ApplyStimulus(_ context.Context, pattern model.StimulusPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanStimulate() {
		return fmt.Errorf("%w: cannot stimulate while %s", ErrBadState, s.state)
	}
	input := stimulusInput(pattern)
	if err := s.net.Forward(input); err != nil {
		return fmt.Errorf("simulator forward: %w", err)
	}
	s.lastStimulus = &pattern
	s.stimuli++
	return nil
}

func (s *Simulated) CaptureResponse(_ context.Context) model.BioResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanStimulate() || s.lastStimulus == nil {
		s.missed++
		return model.InvalidBioResponse()
	}
	outputs := s.net.Output()
	samples := make([]float64, len(outputs))
	for i, out := range outputs {
		noise := s.rng.NormFloat64() * s.NoiseSigma
		if noise > s.NoiseBound {
			noise = s.NoiseBound
		} else if noise < -s.NoiseBound {
			noise = -s.NoiseBound
		}
		samples[i] = out + noise
	}
	strength := predictor.Confidence(outputs)
	s.captures++
	s.quality = 1 - s.NoiseSigma
	return model.BioResponse{
		Samples:            samples,
		Strength:           strength,
		Quality:            s.quality,
		ResponseTimeMicros: 1 + s.rng.Int63n(500),
		Valid:              true,
	}
}

func (s *Simulated) StimulateAndCapture(ctx context.Context, pattern model.StimulusPattern) model.BioResponse {
	if err := s.ApplyStimulus(ctx, pattern); err != nil {
		s.mu.Lock()
		s.missed++
		s.mu.Unlock()
		return model.InvalidBioResponse()
	}
	return s.CaptureResponse(ctx)
}

// ReinforcePattern replays the stimulus through the simulator and trains its
// first NonceBits outputs toward the nonce, at a rate scaled by reward. The
// remaining outputs keep their current values as targets so only the nonce
// pathway moves.
func (s *Simulated) ReinforcePattern(pattern model.StimulusPattern, nonce uint32, reward float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Error {
		return fmt.Errorf("%w: cannot reinforce while %s", ErrBadState, s.state)
	}
	if reward < 0 {
		reward = 0
	} else if reward > 1 {
		reward = 1
	}
	if reward == 0 {
		return nil
	}

	input := stimulusInput(pattern)
	if err := s.net.Forward(input); err != nil {
		return fmt.Errorf("reinforce forward: %w", err)
	}
	target := s.net.Output()
	bits := predictor.NonceToBits(nonce)
	copy(target, bits)
	if err := s.net.Backward(target); err != nil {
		return fmt.Errorf("reinforce backward: %w", err)
	}
	s.net.UpdateWeights(s.LearningRate * reward)
	return nil
}

func (s *Simulated) Diagnostic() Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Diagnostics{
		State:            s.state,
		StimuliApplied:   s.stimuli,
		CapturesReturned: s.captures,
		CapturesMissed:   s.missed,
		LastQuality:      s.quality,
	}
}

// Fail forces the adapter into the Error state. Used when the simulation is
// asked to model a device fault.
func (s *Simulated) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Error
}

func (s *Simulated) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Disconnected
	s.lastStimulus = nil
	return nil
}

// stimulusInput flattens a stimulus pattern into the simulator's input
// vector: per-channel amplitude with a small frequency component folded in.
func stimulusInput(pattern model.StimulusPattern) []float64 {
	input := make([]float64, model.ElectrodeCount)
	for i := range input {
		if i < len(pattern.Amplitudes) {
			input[i] = pattern.Amplitudes[i]
		}
		if i < len(pattern.Frequencies) {
			input[i] += pattern.Frequencies[i] / 1000
		}
	}
	return input
}
