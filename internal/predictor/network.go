// Package predictor implements the feed-forward network that maps 60 header
// features to a 32-bit nonce. The activation has a biological flavour: a
// leaky region below an adaptive per-unit threshold, a steepened sigmoid
// above it, and a fatigue factor applied to every activation.
//
// The network is not internally locked. Concurrent forward evaluation runs on
// snapshots; all mutation is serialized by the reinforcement coordinator.
package predictor

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

const (
	// Weight and state clamps. Enforced after every update.
	WeightMin    = -2.0
	WeightMax    = 2.0
	ThresholdMin = 0.1
	ThresholdMax = 0.9
	StrengthMax  = 1.0

	// FatigueFactor scales every activation once per forward pass.
	FatigueFactor = 0.95

	// Learning-rate schedule bounds.
	LearningRateMin = 1e-4
	LearningRateMax = 0.1

	// AdaptationMax caps the per-unit plasticity multiplier.
	AdaptationMax = 1.5

	defaultMinStrength = 0.2
	defaultAdaptEvery  = 50

	// thresholdRate is the fraction of a unit's error moved into its
	// threshold during backpropagation.
	thresholdRate = 0.001

	// derivFloor keeps gradients alive in the leaky region.
	derivFloor = 0.1

	confidenceWindow = 50
)

var (
	ErrNotConfigured = errors.New("network is not configured")
	ErrShapeMismatch = errors.New("network shape mismatch")
)

// Config describes the network topology and training parameters.
type Config struct {
	InputSize  int
	OutputSize int
	Hidden     []int

	LearningRate      float64
	RetroLearningRate float64
	Decay             float64
	Momentum          float64

	// MinStrength is the lower clamp for synaptic strengths.
	MinStrength float64
	// Adaptation enables the periodic prune/growth pass.
	Adaptation bool
	// AdaptEvery is the training-cycle period of learning-rate adjustment
	// and prune/growth.
	AdaptEvery int

	Seed int64
}

type unit struct {
	input      float64
	activation float64
	avgAct     float64
	threshold  float64
	adaptation float64

	weights   []float64
	strengths []float64
	velocity  []float64
	pending   []float64
	errTerm   float64
}

type layer struct {
	units []unit
}

// Network is a layered feed-forward net. Layer 0 is the input layer and
// carries no weights.
type Network struct {
	cfg    Config
	layers []layer
	rng    *rand.Rand

	learningRate float64
	trainCycles  int
	bitHits      int
	bitTotal     int
	confidences  []float64
}

// New constructs and configures a network.
func New(cfg Config) (*Network, error) {
	n := &Network{}
	if err := n.Configure(cfg); err != nil {
		return nil, err
	}
	return n, nil
}

// Configure validates the config and re-initializes all weights with a
// scaled-symmetric distribution of magnitude 1/sqrt(fan-in).
func (n *Network) Configure(cfg Config) error {
	if cfg.InputSize <= 0 {
		return fmt.Errorf("input size must be > 0, got %d", cfg.InputSize)
	}
	if cfg.OutputSize <= 0 {
		return fmt.Errorf("output size must be > 0, got %d", cfg.OutputSize)
	}
	for i, size := range cfg.Hidden {
		if size <= 0 {
			return fmt.Errorf("hidden layer %d size must be > 0, got %d", i, size)
		}
	}
	if cfg.MinStrength <= 0 || cfg.MinStrength > 1 {
		cfg.MinStrength = defaultMinStrength
	}
	if cfg.AdaptEvery <= 0 {
		cfg.AdaptEvery = defaultAdaptEvery
	}
	if cfg.Decay <= 0 || cfg.Decay >= 1 {
		cfg.Decay = 0.95
	}

	sizes := append([]int{cfg.InputSize}, cfg.Hidden...)
	sizes = append(sizes, cfg.OutputSize)

	rng := rand.New(rand.NewSource(cfg.Seed))
	layers := make([]layer, len(sizes))
	for l, size := range sizes {
		units := make([]unit, size)
		for u := range units {
			units[u] = unit{threshold: 0.5, adaptation: 1.0}
			if l > 0 {
				fanIn := sizes[l-1]
				scale := 1.0 / math.Sqrt(float64(fanIn))
				units[u].weights = make([]float64, fanIn)
				units[u].strengths = make([]float64, fanIn)
				units[u].velocity = make([]float64, fanIn)
				units[u].pending = make([]float64, fanIn)
				for w := range units[u].weights {
					units[u].weights[w] = (rng.Float64()*2 - 1) * scale
					units[u].strengths[w] = 1.0
				}
			}
		}
		layers[l].units = units
	}

	n.cfg = cfg
	n.layers = layers
	n.rng = rng
	n.learningRate = clamp(cfg.LearningRate, 0, LearningRateMax)
	n.trainCycles = 0
	n.bitHits = 0
	n.bitTotal = 0
	n.confidences = nil
	return nil
}

// LayerSizes returns the unit counts per layer, input first.
func (n *Network) LayerSizes() []int {
	sizes := make([]int, len(n.layers))
	for i := range n.layers {
		sizes[i] = len(n.layers[i].units)
	}
	return sizes
}

// LearningRate returns the current (schedule-adjusted) learning rate.
func (n *Network) LearningRate() float64 {
	return n.learningRate
}

// Forward propagates one input vector, updating all activations.
func (n *Network) Forward(input []float64) error {
	if len(n.layers) == 0 {
		return ErrNotConfigured
	}
	if len(input) != n.cfg.InputSize {
		return fmt.Errorf("%w: input size %d, want %d", ErrShapeMismatch, len(input), n.cfg.InputSize)
	}

	for u := range n.layers[0].units {
		n.layers[0].units[u].activation = input[u]
		n.layers[0].units[u].input = input[u]
	}
	for l := 1; l < len(n.layers); l++ {
		prev := n.layers[l-1].units
		readout := l == len(n.layers)-1
		for u := range n.layers[l].units {
			target := &n.layers[l].units[u]
			total := 0.0
			for p := range prev {
				total += prev[p].activation * target.weights[p] * target.strengths[p]
			}
			target.input = total
			if readout {
				target.activation = sigmoid(2*(total-target.threshold)) * FatigueFactor
			} else {
				target.activation = activate(total, target.threshold) * FatigueFactor
			}
			target.avgAct = 0.9*target.avgAct + 0.1*math.Abs(target.activation)
		}
	}
	return nil
}

// Output returns a copy of the output-layer activations.
func (n *Network) Output() []float64 {
	if len(n.layers) == 0 {
		return nil
	}
	last := n.layers[len(n.layers)-1].units
	out := make([]float64, len(last))
	for i := range last {
		out[i] = last[i].activation
	}
	return out
}

// Backward computes the output error against target, propagates it backwards,
// nudges per-unit thresholds by a tiny fraction of the unit error, and stores
// pending weight deltas for UpdateWeights.
func (n *Network) Backward(target []float64) error {
	if len(n.layers) == 0 {
		return ErrNotConfigured
	}
	outLayer := len(n.layers) - 1
	if len(target) != len(n.layers[outLayer].units) {
		return fmt.Errorf("%w: target size %d, want %d", ErrShapeMismatch, len(target), len(n.layers[outLayer].units))
	}

	for u := range n.layers[outLayer].units {
		out := &n.layers[outLayer].units[u]
		out.errTerm = (target[u] - out.activation) * readoutDerivative(out.input, out.threshold)
	}

	for l := outLayer; l >= 1; l-- {
		prev := n.layers[l-1].units
		current := n.layers[l].units

		if l > 1 {
			for p := range prev {
				sum := 0.0
				for u := range current {
					sum += current[u].errTerm * current[u].weights[p] * current[u].strengths[p]
				}
				prev[p].errTerm = sum * derivative(prev[p].input, prev[p].threshold)
			}
		}

		for u := range current {
			target := &current[u]
			target.threshold = clamp(target.threshold-thresholdRate*target.errTerm, ThresholdMin, ThresholdMax)
			for p := range prev {
				target.pending[p] = prev[p].activation * target.errTerm
			}
		}
	}
	return nil
}

// UpdateWeights applies the Hebbian-modulated pending deltas:
// delta = rate * pre * postError * adaptation. Synaptic strengths move by a
// tenth of the delta. All clamps from the data-model invariants apply.
// A zero rate freezes the network entirely.
func (n *Network) UpdateWeights(rate float64) {
	if rate == 0 || len(n.layers) == 0 {
		return
	}
	for l := 1; l < len(n.layers); l++ {
		for u := range n.layers[l].units {
			target := &n.layers[l].units[u]
			for p := range target.weights {
				delta := rate * target.pending[p] * target.adaptation
				target.velocity[p] = n.cfg.Momentum*target.velocity[p] + delta
				target.weights[p] = clamp(target.weights[p]+target.velocity[p], WeightMin, WeightMax)
				target.strengths[p] = clamp(target.strengths[p]+delta*0.1, n.cfg.MinStrength, StrengthMax)
				target.pending[p] = 0
			}
		}
	}
}

// activate is the hidden-unit response: leaky below the threshold, steepened
// sigmoid above it. The output layer instead uses a pure sigmoid readout so
// its activations stay inside (0,1) and read directly as bit probabilities.
func activate(x, threshold float64) float64 {
	if x < threshold {
		return 0.01 * (x - threshold)
	}
	return sigmoid(2 * (x - threshold))
}

func derivative(x, threshold float64) float64 {
	if x < threshold {
		return derivFloor
	}
	return readoutDerivative(x, threshold)
}

func readoutDerivative(x, threshold float64) float64 {
	s := sigmoid(2 * (x - threshold))
	d := 2 * s * (1 - s) * FatigueFactor
	if d < derivFloor {
		return derivFloor
	}
	return d
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
