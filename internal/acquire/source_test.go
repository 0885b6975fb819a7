package acquire

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"hnse/internal/model"
)

func TestSyntheticReadOne(t *testing.T) {
	s := NewSyntheticSource(42)
	frame, err := s.ReadOne(context.Background())
	if err != nil {
		t.Fatalf("read one: %v", err)
	}
	if len(frame.Channels) != model.ElectrodeCount {
		t.Fatalf("frame has %d channels", len(frame.Channels))
	}
	if !frame.Valid() {
		t.Fatal("synthetic frame should satisfy the quality invariant")
	}
}

func TestSyntheticTimestampsMonotonic(t *testing.T) {
	s := NewSyntheticSource(7)
	last := int64(-1)
	for i := 0; i < 100; i++ {
		frame, err := s.ReadOne(context.Background())
		if err != nil {
			t.Fatalf("read one: %v", err)
		}
		if frame.TimestampMicros < last {
			t.Fatalf("timestamp decreased: %d < %d", frame.TimestampMicros, last)
		}
		last = frame.TimestampMicros
	}
}

func TestSyntheticStartStop(t *testing.T) {
	s := NewSyntheticSource(1)
	ctx := context.Background()
	if err := s.Start(ctx, 200); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case frame := <-s.Frames():
		if !frame.Valid() {
			t.Fatal("streamed frame should be valid")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame produced within 2s")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Stop is idempotent.
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestSyntheticRejectsBadRate(t *testing.T) {
	s := NewSyntheticSource(1)
	if err := s.Start(context.Background(), 0); err == nil {
		t.Fatal("zero rate should be rejected")
	}
}

func TestOfferDropsOldest(t *testing.T) {
	queue := make(chan model.ElectrodeFrame, 2)
	for ts := int64(1); ts <= 5; ts++ {
		offer(queue, model.ElectrodeFrame{TimestampMicros: ts})
	}
	first := <-queue
	second := <-queue
	if first.TimestampMicros != 4 || second.TimestampMicros != 5 {
		t.Fatalf("queue should keep the freshest frames, got %d %d", first.TimestampMicros, second.TimestampMicros)
	}
}

type fakeLink struct {
	connected bool
	frames    []model.ElectrodeFrame
	idx       int
}

func (l *fakeLink) Connected() bool { return l.connected }

func (l *fakeLink) ReadFrame(_ context.Context) (model.ElectrodeFrame, error) {
	if l.idx >= len(l.frames) {
		return model.ElectrodeFrame{}, fmt.Errorf("no more frames")
	}
	frame := l.frames[l.idx]
	l.idx++
	return frame, nil
}

func goodFrame(ts int64) model.ElectrodeFrame {
	return model.ElectrodeFrame{TimestampMicros: ts, Channels: make([]model.ChannelSample, model.ElectrodeCount)}
}

func TestDeviceSourceNotReady(t *testing.T) {
	s := NewDeviceSource(&fakeLink{connected: false})
	if err := s.Start(context.Background(), 10); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if _, err := s.ReadOne(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestDeviceSourceRejectsMalformedFrames(t *testing.T) {
	bad := model.ElectrodeFrame{TimestampMicros: 1, Channels: make([]model.ChannelSample, model.ElectrodeCount)}
	bad.Channels[3].Voltage = 500

	link := &fakeLink{connected: true, frames: []model.ElectrodeFrame{bad, goodFrame(2)}}
	s := NewDeviceSource(link)

	if _, err := s.ReadOne(context.Background()); err == nil {
		t.Fatal("malformed frame should not be returned")
	}
	if s.Rejected() != 1 {
		t.Fatalf("rejected counter = %d", s.Rejected())
	}
	frame, err := s.ReadOne(context.Background())
	if err != nil {
		t.Fatalf("read one: %v", err)
	}
	if frame.TimestampMicros != 2 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestDeviceSourceRejectsTimestampRegression(t *testing.T) {
	link := &fakeLink{connected: true, frames: []model.ElectrodeFrame{goodFrame(10), goodFrame(5)}}
	s := NewDeviceSource(link)

	if _, err := s.ReadOne(context.Background()); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if _, err := s.ReadOne(context.Background()); err == nil {
		t.Fatal("regressing timestamp should be rejected")
	}
	if s.Rejected() != 1 {
		t.Fatalf("rejected counter = %d", s.Rejected())
	}
}
