package acquire

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hnse/internal/model"
)

// DeviceLink is the external MEA collaborator the device source wraps.
// Vendor-specific framing lives behind this interface and is out of scope
// here.
type DeviceLink interface {
	Connected() bool
	ReadFrame(ctx context.Context) (model.ElectrodeFrame, error)
}

// DeviceSource streams frames from a DeviceLink into the bounded queue,
// discarding malformed frames at the boundary.
type DeviceSource struct {
	link DeviceLink

	mu      sync.Mutex
	queue   chan model.ElectrodeFrame
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	rejected atomic.Uint64
	lastTS   atomic.Int64
}

func NewDeviceSource(link DeviceLink) *DeviceSource {
	return &DeviceSource{
		link:  link,
		queue: make(chan model.ElectrodeFrame, DefaultQueueDepth),
	}
}

func (s *DeviceSource) Start(ctx context.Context, rateHz float64) error {
	if !s.link.Connected() {
		return ErrNotReady
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

	interval := time.Second
	if rateHz > 0 {
		interval = time.Duration(float64(time.Second) / rateHz)
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				frame, err := s.link.ReadFrame(runCtx)
				if err != nil {
					continue
				}
				if !s.accept(frame) {
					continue
				}
				offer(s.queue, frame)
			}
		}
	}()
	return nil
}

func (s *DeviceSource) Stop() error {
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

func (s *DeviceSource) ReadOne(ctx context.Context) (model.ElectrodeFrame, error) {
	if !s.link.Connected() {
		return model.ElectrodeFrame{}, ErrNotReady
	}
	frame, err := s.link.ReadFrame(ctx)
	if err != nil {
		return model.ElectrodeFrame{}, err
	}
	if !s.accept(frame) {
		return model.ElectrodeFrame{}, ErrNotReady
	}
	return frame, nil
}

func (s *DeviceSource) Frames() <-chan model.ElectrodeFrame {
	return s.queue
}

func (s *DeviceSource) Rejected() uint64 {
	return s.rejected.Load()
}

// accept enforces the source quality invariant and non-decreasing timestamps.
func (s *DeviceSource) accept(frame model.ElectrodeFrame) bool {
	if !frame.Valid() {
		s.rejected.Add(1)
		slog.Warn("device source discarded malformed frame",
			"channels", len(frame.Channels),
			"rejected_total", s.rejected.Load())
		return false
	}
	last := s.lastTS.Load()
	if frame.TimestampMicros < last {
		s.rejected.Add(1)
		return false
	}
	s.lastTS.Store(frame.TimestampMicros)
	return true
}
