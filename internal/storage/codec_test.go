package storage

import (
	"errors"
	"testing"

	"hnse/internal/model"
)

func sampleState() model.PersistedState {
	return model.PersistedState{
		VersionedRecord: NewVersionedRecord(),
		ID:              "engine",
		LayerSizes:      []int{60, 48, 32},
		Weights:         [][][]float64{{{0.25, -1.5}}},
		SynapticStrengths: [][][]float64{
			{{1, 0.5}},
		},
		Thresholds: [][]float64{{0.4}},
		FusionWeights: model.FusionWeights{
			SHA: 0.5, Network: 0.25, Bio: 0.25,
		},
		Counters: map[model.Producer]model.ProducerCounter{
			model.ProducerSHA256: {Selections: 10, Successes: 4},
		},
		TimestampMicros: 1234,
	}
}

func TestStateCodecRoundTrip(t *testing.T) {
	payload, err := EncodeState(sampleState())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	state, err := DecodeState(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.ID != "engine" {
		t.Fatalf("id = %q", state.ID)
	}
	if len(state.LayerSizes) != 3 || state.LayerSizes[1] != 48 {
		t.Fatalf("layer sizes = %v", state.LayerSizes)
	}
	if state.Weights[0][0][1] != -1.5 {
		t.Fatalf("weights = %v", state.Weights)
	}
	if state.Counters[model.ProducerSHA256].Successes != 4 {
		t.Fatalf("counters = %v", state.Counters)
	}
}

func TestDecodeStateRejectsVersionMismatch(t *testing.T) {
	state := sampleState()
	state.SchemaVersion = CurrentSchemaVersion + 1
	payload, err := EncodeState(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeState(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}

	state = sampleState()
	state.CodecVersion = CurrentCodecVersion + 1
	payload, err = EncodeState(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeState(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestDecodeStateRejectsGarbage(t *testing.T) {
	if _, err := DecodeState([]byte("{")); err == nil {
		t.Fatal("truncated payload should fail")
	}
}

func TestTrainingExamplesCodec(t *testing.T) {
	examples := []model.TrainingExample{
		{Input: []float64{1, 2}, Target: []float64{0, 1}, Nonce: 7, Success: true},
	}
	payload, err := EncodeTrainingExamples(examples)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeTrainingExamples(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Nonce != 7 || !decoded[0].Success {
		t.Fatalf("decoded = %+v", decoded)
	}
}
