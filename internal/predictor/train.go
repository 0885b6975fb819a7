package predictor

import (
	"fmt"

	"hnse/internal/model"
)

// Train runs one supervised cycle over the example: forward, backward, weight
// update at the current learning rate. Every AdaptEvery cycles the learning
// rate is adjusted against recent bit accuracy and, when adaptation is
// enabled, the prune/growth pass runs.
func (n *Network) Train(example model.TrainingExample) error {
	if len(n.layers) == 0 {
		return ErrNotConfigured
	}
	// A zero learning rate freezes the network: no weight, strength or
	// threshold movement at all.
	if n.learningRate == 0 {
		return nil
	}
	if err := n.Forward(example.Input); err != nil {
		return fmt.Errorf("train forward: %w", err)
	}
	n.scoreBits(example.Target)
	if err := n.Backward(example.Target); err != nil {
		return fmt.Errorf("train backward: %w", err)
	}
	n.UpdateWeights(n.learningRate)

	n.trainCycles++
	if n.trainCycles%n.cfg.AdaptEvery == 0 {
		n.adjustLearningRate()
		if n.cfg.Adaptation {
			n.pruneAndGrow()
		}
	}
	return nil
}

// scoreBits accumulates the rolling bit-accuracy window driving the
// learning-rate schedule.
func (n *Network) scoreBits(target []float64) {
	outputs := n.Output()
	for i := range target {
		if i >= len(outputs) {
			break
		}
		predicted := outputs[i] > 0.5
		wanted := target[i] > 0.5
		if predicted == wanted {
			n.bitHits++
		}
		n.bitTotal++
	}
}

// adjustLearningRate shrinks the rate when accuracy is high and grows it when
// the network is floundering, inside the [LearningRateMin, LearningRateMax]
// band. A rate that was explicitly set to zero stays zero.
func (n *Network) adjustLearningRate() {
	if n.bitTotal == 0 || n.learningRate == 0 {
		return
	}
	accuracy := float64(n.bitHits) / float64(n.bitTotal)
	switch {
	case accuracy > 0.8:
		n.learningRate = clamp(n.learningRate*n.cfg.Decay, LearningRateMin, LearningRateMax)
	case accuracy < 0.3:
		n.learningRate = clamp(n.learningRate/n.cfg.Decay, LearningRateMin, LearningRateMax)
	}
	n.bitHits = 0
	n.bitTotal = 0
}

// pruneAndGrow raises the plasticity of units with sustained activation.
// Pruning of silent connections is expressed through the strength floor:
// UpdateWeights clamps every strength into [MinStrength, StrengthMax], so no
// separate decay pass exists here.
func (n *Network) pruneAndGrow() {
	for l := 1; l < len(n.layers); l++ {
		for u := range n.layers[l].units {
			target := &n.layers[l].units[u]
			if target.avgAct > 0.8 && target.adaptation < AdaptationMax {
				target.adaptation = clamp(target.adaptation*1.01, 0, AdaptationMax)
			}
		}
	}
}

// Converged reports whether the last confidenceWindow predictions are both
// stable (variance below 0.05) and strong (mean above 0.7).
func (n *Network) Converged() bool {
	if len(n.confidences) < confidenceWindow {
		return false
	}
	mean := 0.0
	for _, c := range n.confidences {
		mean += c
	}
	mean /= float64(len(n.confidences))

	variance := 0.0
	for _, c := range n.confidences {
		d := c - mean
		variance += d * d
	}
	variance /= float64(len(n.confidences))

	return variance < 0.05 && mean > 0.7
}

// Retrotrain replays historical examples at the (much smaller) retroactive
// learning rate for the given number of epochs. It reports success when more
// than half of the examples ended with a lower output error than they started
// with. The regular learning-rate schedule does not run during replay.
func (n *Network) Retrotrain(examples []model.TrainingExample, epochs int) (bool, error) {
	if len(n.layers) == 0 {
		return false, ErrNotConfigured
	}
	if len(examples) == 0 || epochs <= 0 {
		return false, nil
	}

	before := make([]float64, len(examples))
	for i, ex := range examples {
		err := n.exampleError(ex)
		if err < 0 {
			return false, fmt.Errorf("retrotrain: example %d has wrong shape", i)
		}
		before[i] = err
	}

	for epoch := 0; epoch < epochs; epoch++ {
		for _, ex := range examples {
			if err := n.Forward(ex.Input); err != nil {
				return false, fmt.Errorf("retrotrain forward: %w", err)
			}
			if err := n.Backward(ex.Target); err != nil {
				return false, fmt.Errorf("retrotrain backward: %w", err)
			}
			n.UpdateWeights(n.cfg.RetroLearningRate)
		}
	}

	improved := 0
	for i, ex := range examples {
		if n.exampleError(ex) < before[i] {
			improved++
		}
	}
	return improved*2 > len(examples), nil
}

// exampleError is the summed squared output error for one example, or -1 on a
// shape mismatch.
func (n *Network) exampleError(ex model.TrainingExample) float64 {
	if err := n.Forward(ex.Input); err != nil {
		return -1
	}
	outputs := n.Output()
	if len(outputs) != len(ex.Target) {
		return -1
	}
	total := 0.0
	for i := range outputs {
		d := ex.Target[i] - outputs[i]
		total += d * d
	}
	return total
}

// ReinforceSuccess rewards the pathways behind a winning prediction: weights
// into sustained-activity units scale up 5%, their strengths 3%, and their
// plasticity multiplier grows toward the cap.
func (n *Network) ReinforceSuccess() {
	for l := 1; l < len(n.layers); l++ {
		for u := range n.layers[l].units {
			target := &n.layers[l].units[u]
			if target.avgAct <= 0.8 {
				continue
			}
			for p := range target.weights {
				target.weights[p] = clamp(target.weights[p]*1.05, WeightMin, WeightMax)
				target.strengths[p] = clamp(target.strengths[p]*1.03, n.cfg.MinStrength, StrengthMax)
			}
			target.adaptation = clamp(target.adaptation*1.02, 0, AdaptationMax)
		}
	}
}

// WeakenOverconfidence is the failure response: output thresholds drift a
// tenth of the way back toward the undecided midpoint and strong synapses
// above 0.8 lose 5% of their strength.
func (n *Network) WeakenOverconfidence() {
	outLayer := len(n.layers) - 1
	if outLayer < 1 {
		return
	}
	for u := range n.layers[outLayer].units {
		target := &n.layers[outLayer].units[u]
		target.threshold = clamp(target.threshold+(0.5-target.threshold)*0.1, ThresholdMin, ThresholdMax)
	}
	for l := 1; l < len(n.layers); l++ {
		for u := range n.layers[l].units {
			target := &n.layers[l].units[u]
			for p := range target.strengths {
				if target.strengths[p] > 0.8 {
					target.strengths[p] = clamp(target.strengths[p]*0.95, n.cfg.MinStrength, StrengthMax)
				}
			}
		}
	}
}
