package fusion

import (
	"fmt"

	"hnse/internal/config"
	"hnse/internal/model"
)

// lowTotalConfidence is the floor below which confidence-based fusion falls
// back to the plain arithmetic mean.
const lowTotalConfidence = 0.001

// EfficiencySource exposes per-producer historical efficiency, the success
// rate over a recent selection window. Implementations default to 0.5 while
// samples are few.
type EfficiencySource interface {
	Efficiency(p model.Producer) float64
}

// neutralEfficiency stands in when no history is wired up.
type neutralEfficiency struct{}

func (neutralEfficiency) Efficiency(model.Producer) float64 { return 0.5 }

// Fuse combines the three candidates into one nonce and confidence using the
// configured policy. Weights are normalized before use and all confidences
// are clamped at the boundary.
func Fuse(policy string, sha, network, bio model.Candidate, weights model.FusionWeights, eff EfficiencySource) (uint32, float64, error) {
	sha.Confidence = clamp01(sha.Confidence)
	network.Confidence = clamp01(network.Confidence)
	bio.Confidence = clamp01(bio.Confidence)
	if eff == nil {
		eff = neutralEfficiency{}
	}

	switch policy {
	case config.PolicyWeightedAverage:
		nonce, confidence := weightedMix(sha, network, bio, weights.Normalized())
		return nonce, confidence, nil
	case config.PolicyConfidenceBased:
		total := sha.Confidence + network.Confidence + bio.Confidence
		if total < lowTotalConfidence {
			return meanNonce(sha, network, bio), 0, nil
		}
		mix := model.FusionWeights{SHA: sha.Confidence, Network: network.Confidence, Bio: bio.Confidence}
		nonce, confidence := weightedMix(sha, network, bio, mix.Normalized())
		return nonce, confidence, nil
	case config.PolicyAdaptive:
		mix := model.FusionWeights{
			SHA:     eff.Efficiency(model.ProducerSHA256) * sha.Confidence,
			Network: eff.Efficiency(model.ProducerNetwork) * network.Confidence,
			Bio:     eff.Efficiency(model.ProducerBio) * bio.Confidence,
		}
		if mix.Sum() < lowTotalConfidence {
			return meanNonce(sha, network, bio), 0, nil
		}
		nonce, confidence := weightedMix(sha, network, bio, mix.Normalized())
		return nonce, confidence, nil
	default:
		return 0, 0, fmt.Errorf("%w: fusion policy %q", config.ErrConfigInvalid, policy)
	}
}

// weightedMix is the weighted arithmetic mean of nonces and confidences,
// computed in float64 and cast back to the unsigned 32-bit domain.
func weightedMix(sha, network, bio model.Candidate, w model.FusionWeights) (uint32, float64) {
	nonce := w.SHA*float64(sha.Nonce) + w.Network*float64(network.Nonce) + w.Bio*float64(bio.Nonce)
	confidence := w.SHA*sha.Confidence + w.Network*network.Confidence + w.Bio*bio.Confidence
	return uint32(nonce), clamp01(confidence)
}

// meanNonce is the degenerate-confidence fallback: the plain arithmetic mean
// of the three nonces.
func meanNonce(sha, network, bio model.Candidate) uint32 {
	mean := (float64(sha.Nonce) + float64(network.Nonce) + float64(bio.Nonce)) / 3
	return uint32(mean)
}
