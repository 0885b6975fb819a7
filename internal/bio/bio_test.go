package bio

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"hnse/internal/model"
)

func testPattern() model.StimulusPattern {
	amplitudes := make([]float64, model.ElectrodeCount)
	frequencies := make([]float64, model.ElectrodeCount)
	for i := range amplitudes {
		amplitudes[i] = 0.5
		frequencies[i] = 100
	}
	return model.StimulusPattern{
		Amplitudes:  amplitudes,
		Frequencies: frequencies,
		DurationMs:  100,
		TotalEnergy: 15,
	}
}

func connectedSimulated(t *testing.T) *Simulated {
	t.Helper()
	s, err := NewSimulated(1)
	if err != nil {
		t.Fatalf("new simulated: %v", err)
	}
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s
}

func TestLifecycleTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{Disconnected, Connecting, true},
		{Connecting, Connected, true},
		{Connecting, Error, true},
		{Connected, Streaming, true},
		{Connected, Calibrating, true},
		{Streaming, Calibrating, true},
		{Calibrating, Streaming, true},
		{Disconnected, Connected, false},
		{Disconnected, Streaming, false},
		{Streaming, Disconnected, false},
		{Error, Connected, false},
		{Error, Disconnected, false},
	}
	for _, tc := range cases {
		state := tc.from
		err := transition(&state, tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s should be legal: %v", tc.from, tc.to, err)
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("%s -> %s should be illegal", tc.from, tc.to)
			}
			if !errors.Is(err, ErrBadState) {
				t.Errorf("%s -> %s: expected ErrBadState, got %v", tc.from, tc.to, err)
			}
		}
	}
}

func TestErrorIsTerminalUntilReset(t *testing.T) {
	s := connectedSimulated(t)
	s.Fail()

	if err := s.ApplyStimulus(context.Background(), testPattern()); !errors.Is(err, ErrBadState) {
		t.Fatalf("stimulating from error state: %v", err)
	}
	if response := s.CaptureResponse(context.Background()); response.Valid {
		t.Fatal("capture from error state must be invalid")
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if s.State() != Disconnected {
		t.Fatalf("state after reset = %s", s.State())
	}
	if err := s.Connect(); err != nil {
		t.Fatalf("reconnect after reset: %v", err)
	}
}

func TestSimulatedStimulateAndCapture(t *testing.T) {
	s := connectedSimulated(t)
	response := s.StimulateAndCapture(context.Background(), testPattern())
	if !response.Valid {
		t.Fatal("connected simulated capture should be valid")
	}
	if len(response.Samples) != model.ElectrodeCount {
		t.Fatalf("response has %d samples", len(response.Samples))
	}
	if response.Strength < 0 || response.Strength > 1 {
		t.Fatalf("strength %f out of range", response.Strength)
	}
	if response.ResponseTimeMicros <= 0 {
		t.Fatalf("response time %d", response.ResponseTimeMicros)
	}
}

func TestSimulatedCaptureWithoutStimulus(t *testing.T) {
	s := connectedSimulated(t)
	if response := s.CaptureResponse(context.Background()); response.Valid {
		t.Fatal("capture before any stimulus must be invalid")
	}
	if s.Diagnostic().CapturesMissed != 1 {
		t.Fatalf("missed counter = %d", s.Diagnostic().CapturesMissed)
	}
}

func TestSimulatedDisconnectedNeverErrors(t *testing.T) {
	s, err := NewSimulated(2)
	if err != nil {
		t.Fatalf("new simulated: %v", err)
	}
	if response := s.StimulateAndCapture(context.Background(), testPattern()); response.Valid {
		t.Fatal("disconnected adapter must return an invalid response")
	}
}

func TestSimulatedReinforceMovesResponses(t *testing.T) {
	s := connectedSimulated(t)
	s.NoiseSigma = 0
	pattern := testPattern()

	before := s.StimulateAndCapture(context.Background(), pattern)
	for i := 0; i < 200; i++ {
		if err := s.ReinforcePattern(pattern, 0x12345678, 1.0); err != nil {
			t.Fatalf("reinforce: %v", err)
		}
	}
	after := s.StimulateAndCapture(context.Background(), pattern)

	moved := false
	for i := range before.Samples {
		if before.Samples[i] != after.Samples[i] {
			moved = true
			break
		}
	}
	if !moved {
		t.Fatal("reinforcement should change the simulator's responses")
	}
}

func TestSimulatedZeroRewardIsNoOp(t *testing.T) {
	s := connectedSimulated(t)
	s.NoiseSigma = 0
	pattern := testPattern()

	before := s.StimulateAndCapture(context.Background(), pattern)
	if err := s.ReinforcePattern(pattern, 0x12345678, 0); err != nil {
		t.Fatalf("reinforce: %v", err)
	}
	after := s.StimulateAndCapture(context.Background(), pattern)
	for i := range before.Samples {
		if before.Samples[i] != after.Samples[i] {
			t.Fatal("zero reward must not move the simulator")
		}
	}
}

func TestSimulatedStreamingCalibrating(t *testing.T) {
	s := connectedSimulated(t)
	if err := s.StartStreaming(); err != nil {
		t.Fatalf("start streaming: %v", err)
	}
	if err := s.Calibrate(); err != nil {
		t.Fatalf("calibrate from streaming: %v", err)
	}
	if err := s.StartStreaming(); err != nil {
		t.Fatalf("back to streaming: %v", err)
	}
	// Streaming still permits stimulation.
	if err := s.ApplyStimulus(context.Background(), testPattern()); err != nil {
		t.Fatalf("stimulate while streaming: %v", err)
	}
}

type fakeStimulator struct {
	ready bool
	fail  bool
	calls int
}

func (f *fakeStimulator) Ready() bool { return f.ready }

func (f *fakeStimulator) Stimulate(_ context.Context, _ model.StimulusPattern) error {
	f.calls++
	if f.fail {
		return fmt.Errorf("hardware fault")
	}
	return nil
}

type fakeSource struct {
	frame model.ElectrodeFrame
	err   error
}

func (f *fakeSource) Start(context.Context, float64) error { return nil }
func (f *fakeSource) Stop() error                          { return nil }
func (f *fakeSource) Frames() <-chan model.ElectrodeFrame  { return nil }
func (f *fakeSource) Rejected() uint64                     { return 0 }

func (f *fakeSource) ReadOne(context.Context) (model.ElectrodeFrame, error) {
	return f.frame, f.err
}

func activeFrame() model.ElectrodeFrame {
	channels := make([]model.ChannelSample, model.ElectrodeCount)
	for i := range channels {
		channels[i] = model.ChannelSample{Voltage: 0.2, Quality: 0.8, Active: i%2 == 0}
	}
	return model.ElectrodeFrame{TimestampMicros: 1, Channels: channels}
}

func TestRealConnectRequiresReadyStimulator(t *testing.T) {
	r := NewReal(&fakeStimulator{ready: false}, &fakeSource{})
	if err := r.Connect(); err == nil {
		t.Fatal("connect should fail with unready stimulator")
	}
	if r.State() != Error {
		t.Fatalf("state = %s, want error", r.State())
	}
}

func TestRealStimulateAndCapture(t *testing.T) {
	stim := &fakeStimulator{ready: true}
	r := NewReal(stim, &fakeSource{frame: activeFrame()})
	if err := r.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	response := r.StimulateAndCapture(context.Background(), testPattern())
	if !response.Valid {
		t.Fatal("capture should be valid")
	}
	if stim.calls != 1 {
		t.Fatalf("stimulator called %d times", stim.calls)
	}
	// Half the channels are active at |0.2| volts.
	if d := response.Strength - 0.2; d > 1e-9 || d < -1e-9 {
		t.Fatalf("strength = %f, want 0.2", response.Strength)
	}
	if d := response.Quality - 0.8; d > 1e-9 || d < -1e-9 {
		t.Fatalf("quality = %f, want 0.8", response.Quality)
	}
}

func TestRealCaptureFailureIsInvalidNotError(t *testing.T) {
	r := NewReal(&fakeStimulator{ready: true}, &fakeSource{err: fmt.Errorf("device gone")})
	if err := r.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	response := r.StimulateAndCapture(context.Background(), testPattern())
	if response.Valid {
		t.Fatal("missed capture must be invalid")
	}
	if response.Strength != 0 {
		t.Fatalf("missed capture strength = %f", response.Strength)
	}
	if r.Diagnostic().CapturesMissed != 1 {
		t.Fatalf("missed counter = %d", r.Diagnostic().CapturesMissed)
	}
}

func TestRealStimulatorFaultEntersErrorState(t *testing.T) {
	r := NewReal(&fakeStimulator{ready: true, fail: true}, &fakeSource{frame: activeFrame()})
	if err := r.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if response := r.StimulateAndCapture(context.Background(), testPattern()); response.Valid {
		t.Fatal("faulted stimulation must yield an invalid response")
	}
	if r.State() != Error {
		t.Fatalf("state = %s, want error", r.State())
	}
}
