package predictor

import (
	"fmt"
	"math"

	"hnse/internal/model"
)

// NonceToBits expands a nonce into model.NonceBits LSB-first target values
// in {0,1}.
func NonceToBits(nonce uint32) []float64 {
	bits := make([]float64, model.NonceBits)
	for i := range bits {
		if nonce&(1<<uint(i)) != 0 {
			bits[i] = 1
		}
	}
	return bits
}

// BitsToNonce folds LSB-first output activations into a nonce: bit i is set
// when activation i exceeds 0.5.
func BitsToNonce(bits []float64) uint32 {
	var nonce uint32
	for i := 0; i < len(bits) && i < model.NonceBits; i++ {
		if bits[i] > 0.5 {
			nonce |= 1 << uint(i)
		}
	}
	return nonce
}

// NonceFromSignals derives a nonce from raw electrode samples: bit i is set
// when the fractional part of |sample i| exceeds 0.5. Used both by the bio
// candidate path and for mixing live activity into network predictions.
func NonceFromSignals(signals []float64) uint32 {
	var nonce uint32
	for i := 0; i < len(signals) && i < model.NonceBits; i++ {
		v := math.Abs(signals[i])
		if v-math.Floor(v) > 0.5 {
			nonce |= 1 << uint(i)
		}
	}
	return nonce
}

// Confidence maps output activations to [0,1]: the mean distance of every
// output from the undecided midpoint, doubled.
func Confidence(outputs []float64) float64 {
	if len(outputs) == 0 {
		return 0
	}
	total := 0.0
	for _, out := range outputs {
		total += math.Abs(out-0.5) * 2
	}
	return clamp(total/float64(len(outputs)), 0, 1)
}

// PredictNonce runs one forward pass over the feature vector and reads the
// output layer as a nonce. When live electrode signals are supplied, the
// signal-derived nonce is XORed in so ongoing MEA activity perturbs the
// prediction.
func (n *Network) PredictNonce(features, signals []float64) (model.Candidate, error) {
	if len(n.layers) == 0 {
		return model.Candidate{}, ErrNotConfigured
	}
	if got := len(n.layers[len(n.layers)-1].units); got != model.NonceBits {
		return model.Candidate{}, fmt.Errorf("%w: output size %d, want %d", ErrShapeMismatch, got, model.NonceBits)
	}
	if err := n.Forward(features); err != nil {
		return model.Candidate{}, err
	}
	outputs := n.Output()
	nonce := BitsToNonce(outputs)
	if len(signals) > 0 {
		nonce ^= NonceFromSignals(signals)
	}
	confidence := Confidence(outputs)
	n.recordConfidence(confidence)
	return model.Candidate{
		Nonce:      nonce,
		Confidence: confidence,
		Producer:   model.ProducerNetwork,
	}, nil
}

// RecordConfidence feeds one externally observed prediction confidence into
// the convergence window. Used when forwards ran on a snapshot rather than on
// this instance.
func (n *Network) RecordConfidence(c float64) {
	n.recordConfidence(c)
}

func (n *Network) recordConfidence(c float64) {
	n.confidences = append(n.confidences, c)
	if len(n.confidences) > confidenceWindow {
		n.confidences = n.confidences[len(n.confidences)-confidenceWindow:]
	}
}
