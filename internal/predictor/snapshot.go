package predictor

import "fmt"

// Snapshot returns an independent copy of the network for concurrent
// read-only evaluation. The copy shares nothing with the original.
func (n *Network) Snapshot() *Network {
	if len(n.layers) == 0 {
		return &Network{}
	}
	clone := &Network{
		cfg:          n.cfg,
		layers:       make([]layer, len(n.layers)),
		learningRate: n.learningRate,
		trainCycles:  n.trainCycles,
		bitHits:      n.bitHits,
		bitTotal:     n.bitTotal,
		confidences:  append([]float64(nil), n.confidences...),
	}
	for l := range n.layers {
		units := make([]unit, len(n.layers[l].units))
		for u := range units {
			src := n.layers[l].units[u]
			units[u] = unit{
				input:      src.input,
				activation: src.activation,
				avgAct:     src.avgAct,
				threshold:  src.threshold,
				adaptation: src.adaptation,
				weights:    append([]float64(nil), src.weights...),
				strengths:  append([]float64(nil), src.strengths...),
				velocity:   append([]float64(nil), src.velocity...),
				pending:    append([]float64(nil), src.pending...),
				errTerm:    src.errTerm,
			}
		}
		clone.layers[l].units = units
	}
	return clone
}

// ExportState extracts the persistable network state: weights and strengths
// indexed [layer-1][unit][edge], thresholds indexed [layer-1][unit].
func (n *Network) ExportState() (weights, strengths [][][]float64, thresholds [][]float64) {
	weights = make([][][]float64, 0, len(n.layers)-1)
	strengths = make([][][]float64, 0, len(n.layers)-1)
	thresholds = make([][]float64, 0, len(n.layers)-1)
	for l := 1; l < len(n.layers); l++ {
		layerW := make([][]float64, len(n.layers[l].units))
		layerS := make([][]float64, len(n.layers[l].units))
		layerT := make([]float64, len(n.layers[l].units))
		for u := range n.layers[l].units {
			src := n.layers[l].units[u]
			layerW[u] = append([]float64(nil), src.weights...)
			layerS[u] = append([]float64(nil), src.strengths...)
			layerT[u] = src.threshold
		}
		weights = append(weights, layerW)
		strengths = append(strengths, layerS)
		thresholds = append(thresholds, layerT)
	}
	return weights, strengths, thresholds
}

// ImportState restores previously exported state. Every dimension must match
// the configured topology exactly.
func (n *Network) ImportState(weights, strengths [][][]float64, thresholds [][]float64) error {
	if len(n.layers) == 0 {
		return ErrNotConfigured
	}
	wantLayers := len(n.layers) - 1
	if len(weights) != wantLayers || len(strengths) != wantLayers || len(thresholds) != wantLayers {
		return fmt.Errorf("%w: %d weight layers, want %d", ErrShapeMismatch, len(weights), wantLayers)
	}
	for l := 1; l < len(n.layers); l++ {
		units := n.layers[l].units
		if len(weights[l-1]) != len(units) || len(strengths[l-1]) != len(units) || len(thresholds[l-1]) != len(units) {
			return fmt.Errorf("%w: layer %d has %d units, want %d", ErrShapeMismatch, l, len(weights[l-1]), len(units))
		}
		fanIn := len(n.layers[l-1].units)
		for u := range units {
			if len(weights[l-1][u]) != fanIn || len(strengths[l-1][u]) != fanIn {
				return fmt.Errorf("%w: layer %d unit %d has %d edges, want %d", ErrShapeMismatch, l, u, len(weights[l-1][u]), fanIn)
			}
		}
	}
	for l := 1; l < len(n.layers); l++ {
		for u := range n.layers[l].units {
			target := &n.layers[l].units[u]
			copy(target.weights, weights[l-1][u])
			copy(target.strengths, strengths[l-1][u])
			target.threshold = thresholds[l-1][u]
			for p := range target.velocity {
				target.velocity[p] = 0
				target.pending[p] = 0
			}
		}
	}
	return nil
}
