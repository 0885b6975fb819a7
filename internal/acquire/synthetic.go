package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"hnse/internal/model"
)

// SyntheticSource generates deterministic-looking electrophysiology-shaped
// frames: a slow sine per channel plus seeded Gaussian noise. It stands in
// for the device path in tests and headless runs.
type SyntheticSource struct {
	mu      sync.Mutex
	rng     *rand.Rand
	queue   chan model.ElectrodeFrame
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	sample   int64
	rejected atomic.Uint64

	// BaseAmplitude is the sine amplitude in volts.
	BaseAmplitude float64
	// NoiseSigma is the per-channel Gaussian noise spread in volts.
	NoiseSigma float64
}

// NewSyntheticSource builds a synthetic source with its own seeded generator.
func NewSyntheticSource(seed int64) *SyntheticSource {
	return &SyntheticSource{
		rng:           rand.New(rand.NewSource(seed)),
		queue:         make(chan model.ElectrodeFrame, DefaultQueueDepth),
		BaseAmplitude: 0.05,
		NoiseSigma:    0.01,
	}
}

func (s *SyntheticSource) Start(ctx context.Context, rateHz float64) error {
	if rateHz <= 0 {
		return fmt.Errorf("sampling rate must be > 0, got %f", rateHz)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	interval := time.Duration(float64(time.Second) / rateHz)
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				frame := s.nextFrame()
				if !frame.Valid() {
					s.rejected.Add(1)
					slog.Debug("synthetic source discarded malformed frame")
					continue
				}
				offer(s.queue, frame)
			}
		}
	}()
	return nil
}

func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.started = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (s *SyntheticSource) ReadOne(_ context.Context) (model.ElectrodeFrame, error) {
	return s.nextFrame(), nil
}

func (s *SyntheticSource) Frames() <-chan model.ElectrodeFrame {
	return s.queue
}

func (s *SyntheticSource) Rejected() uint64 {
	return s.rejected.Load()
}

func (s *SyntheticSource) nextFrame() model.ElectrodeFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sample++
	t := float64(s.sample) / 20.0
	channels := make([]model.ChannelSample, model.ElectrodeCount)
	for i := range channels {
		phase := float64(i) * 2 * math.Pi / model.ElectrodeCount
		voltage := s.BaseAmplitude*math.Sin(t+phase) + s.rng.NormFloat64()*s.NoiseSigma
		channels[i] = model.ChannelSample{
			Voltage: voltage,
			Quality: 0.8 + 0.2*s.rng.Float64(),
			Active:  math.Abs(voltage) > s.NoiseSigma,
		}
	}
	return model.ElectrodeFrame{
		TimestampMicros: s.sample * 1_000_000 / 20,
		Channels:        channels,
	}
}
