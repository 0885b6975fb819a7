package bio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hnse/internal/acquire"
	"hnse/internal/model"
)

// DefaultCaptureWait bounds how long a capture blocks for a fresh frame.
const DefaultCaptureWait = 200 * time.Millisecond

// Stimulator is the hardware stimulation collaborator the real adapter
// drives. Vendor framing stays behind this interface.
type Stimulator interface {
	Stimulate(ctx context.Context, pattern model.StimulusPattern) error
	Ready() bool
}

// Real couples a hardware stimulator with an acquisition source. Stimulation
// goes out through the stimulator; responses come back as the freshest
// electrode frame, converted to a BioResponse.
type Real struct {
	mu    sync.Mutex
	state State

	stim   Stimulator
	source acquire.Source

	stimuli  uint64
	captures uint64
	missed   uint64
	quality  float64

	// CaptureWait bounds CaptureResponse blocking.
	CaptureWait time.Duration
}

// NewReal builds a real-device adapter in the Disconnected state.
func NewReal(stim Stimulator, source acquire.Source) *Real {
	return &Real{
		stim:        stim,
		source:      source,
		CaptureWait: DefaultCaptureWait,
	}
}

// Connect walks Disconnected → Connecting and lands in Connected when the
// stimulator reports ready, Error otherwise.
func (r *Real) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := transition(&r.state, Connecting); err != nil {
		return err
	}
	if !r.stim.Ready() {
		r.state = Error
		return fmt.Errorf("%w: stimulator not ready", ErrBadState)
	}
	return transition(&r.state, Connected)
}

// State returns the current lifecycle state.
func (r *Real) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// StartStreaming enters the Streaming state from Connected or Calibrating.
func (r *Real) StartStreaming() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return transition(&r.state, Streaming)
}

// Calibrate enters the Calibrating state from Connected or Streaming.
func (r *Real) Calibrate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return transition(&r.state, Calibrating)
}

func (r *Real) ApplyStimulus(ctx context.Context, pattern model.StimulusPattern) error {
	r.mu.Lock()
	if !r.state.CanStimulate() {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot stimulate while %s", ErrBadState, state)
	}
	r.mu.Unlock()

	if err := r.stim.Stimulate(ctx, pattern); err != nil {
		r.mu.Lock()
		r.state = Error
		r.mu.Unlock()
		return fmt.Errorf("stimulate: %w", err)
	}
	r.mu.Lock()
	r.stimuli++
	r.mu.Unlock()
	return nil
}

// CaptureResponse blocks up to CaptureWait for a frame and converts it:
// voltages become signals, the mean absolute voltage of active channels
// becomes the response strength, and the mean channel quality becomes the
// response quality. Any failure yields an invalid response.
func (r *Real) CaptureResponse(ctx context.Context) model.BioResponse {
	r.mu.Lock()
	if !r.state.CanStimulate() {
		r.missed++
		r.mu.Unlock()
		return model.InvalidBioResponse()
	}
	r.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, r.CaptureWait)
	defer cancel()

	started := time.Now()
	frame, err := r.source.ReadOne(waitCtx)
	if err != nil {
		r.mu.Lock()
		r.missed++
		r.mu.Unlock()
		slog.Warn("bio capture missed", "err", err)
		return model.InvalidBioResponse()
	}

	response := frameToResponse(frame, time.Since(started))
	r.mu.Lock()
	r.captures++
	r.quality = response.Quality
	r.mu.Unlock()
	return response
}

func (r *Real) StimulateAndCapture(ctx context.Context, pattern model.StimulusPattern) model.BioResponse {
	if err := r.ApplyStimulus(ctx, pattern); err != nil {
		r.mu.Lock()
		r.missed++
		r.mu.Unlock()
		return model.InvalidBioResponse()
	}
	return r.CaptureResponse(ctx)
}

// ReinforcePattern replays the winning stimulus at an amplitude scaled by
// reward. The culture's plasticity is the learning mechanism; there is
// nothing else to update on this side.
func (r *Real) ReinforcePattern(pattern model.StimulusPattern, _ uint32, reward float64) error {
	if reward <= 0 {
		return nil
	}
	if reward > 1 {
		reward = 1
	}
	scaled := model.StimulusPattern{
		Amplitudes:  make([]float64, len(pattern.Amplitudes)),
		Frequencies: append([]float64(nil), pattern.Frequencies...),
		DurationMs:  pattern.DurationMs,
	}
	for i, amp := range pattern.Amplitudes {
		scaled.Amplitudes[i] = amp * reward
		scaled.TotalEnergy += scaled.Amplitudes[i] * scaled.Amplitudes[i]
	}
	return r.ApplyStimulus(context.Background(), scaled)
}

func (r *Real) Diagnostic() Diagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Diagnostics{
		State:            r.state,
		StimuliApplied:   r.stimuli,
		CapturesReturned: r.captures,
		CapturesMissed:   r.missed,
		LastQuality:      r.quality,
	}
}

func (r *Real) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Disconnected
	return nil
}

func frameToResponse(frame model.ElectrodeFrame, elapsed time.Duration) model.BioResponse {
	samples := make([]float64, len(frame.Channels))
	activeSum := 0.0
	activeCount := 0
	qualitySum := 0.0
	for i, ch := range frame.Channels {
		samples[i] = ch.Voltage
		qualitySum += ch.Quality
		if ch.Active {
			if ch.Voltage >= 0 {
				activeSum += ch.Voltage
			} else {
				activeSum -= ch.Voltage
			}
			activeCount++
		}
	}
	strength := 0.0
	if activeCount > 0 {
		strength = activeSum / float64(activeCount)
	}
	quality := 0.0
	if len(frame.Channels) > 0 {
		quality = qualitySum / float64(len(frame.Channels))
	}
	return model.BioResponse{
		Samples:            samples,
		Strength:           strength,
		Quality:            quality,
		ResponseTimeMicros: elapsed.Microseconds(),
		Valid:              true,
	}
}
