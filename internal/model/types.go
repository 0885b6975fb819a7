package model

import "math"

// ElectrodeCount is the channel width of every frame, feature vector and
// stimulus pattern in the engine. The hardware grid is 60 electrodes; any
// other width is a configuration error.
const ElectrodeCount = 60

// NonceBits is the width of the mined nonce.
const NonceBits = 32

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ChannelSample is one electrode reading inside a frame.
type ChannelSample struct {
	Voltage float64 `json:"voltage"`
	Quality float64 `json:"quality"`
	Active  bool    `json:"active"`
}

// ElectrodeFrame is one time-slice of acquisition. Frames are immutable
// after creation and carry non-decreasing timestamps.
type ElectrodeFrame struct {
	TimestampMicros int64           `json:"timestamp_micros"`
	Channels        []ChannelSample `json:"channels"`
}

// Valid reports whether the frame satisfies the source quality invariant:
// exactly ElectrodeCount channels, every voltage finite and inside (-100, 100).
func (f ElectrodeFrame) Valid() bool {
	if len(f.Channels) != ElectrodeCount {
		return false
	}
	for _, ch := range f.Channels {
		if math.IsNaN(ch.Voltage) || math.IsInf(ch.Voltage, 0) {
			return false
		}
		if ch.Voltage >= 100 || ch.Voltage <= -100 {
			return false
		}
	}
	return true
}

// StimulusPattern is the per-channel stimulation request derived from header
// features. Amplitudes are bounded by the configured max voltage.
type StimulusPattern struct {
	Amplitudes  []float64 `json:"amplitudes"`
	Frequencies []float64 `json:"frequencies"`
	DurationMs  float64   `json:"duration_ms"`
	TotalEnergy float64   `json:"total_energy"`
}

// BioResponse is what the bio adapter reports after a stimulate/capture round.
// An invalid response stands in for every adapter failure mode; the adapter
// never surfaces capture errors to the search path.
type BioResponse struct {
	Samples            []float64 `json:"samples"`
	Strength           float64   `json:"strength"`
	Quality            float64   `json:"quality"`
	ResponseTimeMicros int64     `json:"response_time_micros"`
	Valid              bool      `json:"valid"`
}

// InvalidBioResponse is the zero-strength response used when the adapter is
// not ready or a capture timed out.
func InvalidBioResponse() BioResponse {
	return BioResponse{Samples: make([]float64, ElectrodeCount)}
}

// Producer tags the origin of a candidate nonce.
type Producer string

const (
	ProducerSHA256  Producer = "sha256"
	ProducerNetwork Producer = "network"
	ProducerBio     Producer = "bio"
	ProducerFusion  Producer = "hybrid_fusion"
)

// Producers lists the three concrete candidate producers in fixed priority
// order. The order doubles as the final tie-break during method selection.
func Producers() []Producer {
	return []Producer{ProducerSHA256, ProducerNetwork, ProducerBio}
}

// Candidate is a proposed nonce with producer-reported confidence in [0,1].
type Candidate struct {
	Nonce      uint32   `json:"nonce"`
	Confidence float64  `json:"confidence"`
	Producer   Producer `json:"producer"`
}

// TripleCandidate holds one cycle's three candidates plus the fusion result.
type TripleCandidate struct {
	CycleID         string             `json:"cycle_id"`
	SHA             Candidate          `json:"sha"`
	Network         Candidate          `json:"network"`
	Bio             Candidate          `json:"bio"`
	FusedNonce      uint32             `json:"fused_nonce"`
	FusedConfidence float64            `json:"fused_confidence"`
	Selected        Producer           `json:"selected"`
	ElapsedMicros   map[Producer]int64 `json:"elapsed_micros"`
}

// ByProducer returns the candidate contributed by p, or the fused candidate
// for ProducerFusion.
func (t TripleCandidate) ByProducer(p Producer) Candidate {
	switch p {
	case ProducerSHA256:
		return t.SHA
	case ProducerNetwork:
		return t.Network
	case ProducerBio:
		return t.Bio
	default:
		return Candidate{Nonce: t.FusedNonce, Confidence: t.FusedConfidence, Producer: ProducerFusion}
	}
}

// FusionWeights are the non-negative per-producer mixing weights. After every
// adjustment they sum to 1 within 1e-6.
type FusionWeights struct {
	SHA     float64 `json:"sha"`
	Network float64 `json:"network"`
	Bio     float64 `json:"bio"`
}

// Sum returns the raw weight total.
func (w FusionWeights) Sum() float64 {
	return w.SHA + w.Network + w.Bio
}

// Normalized returns the weights scaled to sum to 1. A degenerate total falls
// back to the uniform distribution.
func (w FusionWeights) Normalized() FusionWeights {
	total := w.Sum()
	if total <= 0 {
		third := 1.0 / 3.0
		return FusionWeights{SHA: third, Network: third, Bio: third}
	}
	return FusionWeights{SHA: w.SHA / total, Network: w.Network / total, Bio: w.Bio / total}
}

// Of returns the weight assigned to p.
func (w FusionWeights) Of(p Producer) float64 {
	switch p {
	case ProducerSHA256:
		return w.SHA
	case ProducerNetwork:
		return w.Network
	case ProducerBio:
		return w.Bio
	default:
		return 0
	}
}

// TrainingExample pairs a feature vector with a target nonce encoded as
// LSB-first bits. Examples live in a bounded ring.
type TrainingExample struct {
	Input           []float64 `json:"input"`
	Target          []float64 `json:"target"`
	Nonce           uint32    `json:"nonce"`
	Success         bool      `json:"success"`
	Score           float64   `json:"score"`
	TimestampMicros int64     `json:"timestamp_micros"`
}

// OutcomeRecord is one finished mining cycle as seen by the reinforcement
// coordinator: the triple candidate, the outcome, and the header features the
// cycle was derived from (kept so cross-training can rebuild examples).
type OutcomeRecord struct {
	Triple          TripleCandidate `json:"triple"`
	Success         bool            `json:"success"`
	WinningNonce    uint32          `json:"winning_nonce"`
	WinningProducer Producer        `json:"winning_producer"`
	Features        []float64       `json:"features"`
	TimestampMicros int64           `json:"timestamp_micros"`
}

// ProducerCounter tracks lifetime selections and successes for one producer.
type ProducerCounter struct {
	Selections int `json:"selections"`
	Successes  int `json:"successes"`
}

// PersistedState is the single versioned record the engine saves and loads.
// Loading rejects records whose input/output layer sizes do not match the
// runtime configuration.
type PersistedState struct {
	VersionedRecord
	ID                string                       `json:"id"`
	LayerSizes        []int                        `json:"layer_sizes"`
	Weights           [][][]float64                `json:"weights"`
	SynapticStrengths [][][]float64                `json:"synaptic_strengths"`
	Thresholds        [][]float64                  `json:"thresholds"`
	FusionWeights     FusionWeights                `json:"fusion_weights"`
	Counters          map[Producer]ProducerCounter `json:"counters"`
	TimestampMicros   int64                        `json:"timestamp_micros"`
}

// CycleSummary is the archived per-cycle record kept alongside the engine
// state so operators can see which path is failing.
type CycleSummary struct {
	RunID           string   `json:"run_id"`
	CycleID         string   `json:"cycle_id"`
	Selected        Producer `json:"selected"`
	Success         bool     `json:"success"`
	WinningProducer Producer `json:"winning_producer,omitempty"`
	WinningNonce    uint32   `json:"winning_nonce,omitempty"`
	FusedConfidence float64  `json:"fused_confidence"`
	TimestampMicros int64    `json:"timestamp_micros"`
}
