// Package config holds the engine configuration surface and its fail-fast
// validation. Every recognized option is refused at configuration time when
// out of range; nothing is silently corrected except documented defaulting.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"hnse/internal/model"
)

// ErrConfigInvalid classifies every configuration-time refusal.
var ErrConfigInvalid = errors.New("invalid configuration")

// Fusion policies.
const (
	PolicyWeightedAverage = "weightedAverage"
	PolicyConfidenceBased = "confidenceBased"
	PolicyAdaptive        = "adaptive"
)

// Target modes.
const (
	TargetModePrefix  = "prefix"
	TargetModeInteger = "integer"
)

// InitialWeights are the raw (pre-normalization) fusion weights.
type InitialWeights struct {
	SHA     float64 `yaml:"sha" json:"sha"`
	Network float64 `yaml:"network" json:"network"`
	Bio     float64 `yaml:"bio" json:"bio"`
}

// Config is the enumerated engine option surface.
type Config struct {
	ElectrodeCount     int     `yaml:"electrodeCount" json:"electrode_count"`
	SamplingRate       float64 `yaml:"samplingRate" json:"sampling_rate"`
	CycleTimeoutMs     int     `yaml:"cycleTimeoutMs" json:"cycle_timeout_ms"`
	StimulusMaxVoltage float64 `yaml:"stimulusMaxVoltage" json:"stimulus_max_voltage"`

	FusionPolicy         string         `yaml:"fusionPolicy" json:"fusion_policy"`
	InitialWeights       InitialWeights `yaml:"initialWeights" json:"initial_weights"`
	MinConfidenceSha     float64        `yaml:"minConfidenceSha" json:"min_confidence_sha"`
	MinConfidenceNetwork float64        `yaml:"minConfidenceNetwork" json:"min_confidence_network"`
	MinConfidenceBio     float64        `yaml:"minConfidenceBio" json:"min_confidence_bio"`

	LearningRate      float64 `yaml:"learningRate" json:"learning_rate"`
	RetroLearningRate float64 `yaml:"retroLearningRate" json:"retro_learning_rate"`
	Decay             float64 `yaml:"decay" json:"decay"`
	Momentum          float64 `yaml:"momentum" json:"momentum"`
	HiddenLayers      []int   `yaml:"hiddenLayers" json:"hidden_layers"`

	HistoryDepth     int     `yaml:"historyDepth" json:"history_depth"`
	AdaptationRate   float64 `yaml:"adaptationRate" json:"adaptation_rate"`
	WeightAdaptEvery int     `yaml:"weightAdaptEvery" json:"weight_adapt_every"`

	TargetMode string `yaml:"targetMode" json:"target_mode"`
	Target     string `yaml:"target" json:"target"`
}

// Default returns the engine defaults used when no file overrides them.
func Default() Config {
	return Config{
		ElectrodeCount:       model.ElectrodeCount,
		SamplingRate:         15,
		CycleTimeoutMs:       5000,
		StimulusMaxVoltage:   1.0,
		FusionPolicy:         PolicyAdaptive,
		InitialWeights:       InitialWeights{SHA: 1, Network: 1, Bio: 1},
		MinConfidenceSha:     0.3,
		MinConfidenceNetwork: 0.4,
		MinConfidenceBio:     0.5,
		LearningRate:         0.01,
		RetroLearningRate:    0.001,
		Decay:                0.95,
		Momentum:             0.9,
		HiddenLayers:         []int{48},
		HistoryDepth:         1000,
		AdaptationRate:       0.05,
		WeightAdaptEvery:     20,
		TargetMode:           TargetModePrefix,
		Target:               "0000",
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate refuses any out-of-range option. The returned error always wraps
// ErrConfigInvalid.
func (c Config) Validate() error {
	if c.ElectrodeCount != model.ElectrodeCount {
		return fmt.Errorf("%w: electrodeCount must be %d, got %d", ErrConfigInvalid, model.ElectrodeCount, c.ElectrodeCount)
	}
	if c.SamplingRate <= 0 {
		return fmt.Errorf("%w: samplingRate must be > 0", ErrConfigInvalid)
	}
	if c.CycleTimeoutMs <= 0 {
		return fmt.Errorf("%w: cycleTimeoutMs must be > 0", ErrConfigInvalid)
	}
	if c.StimulusMaxVoltage <= 0 {
		return fmt.Errorf("%w: stimulusMaxVoltage must be > 0", ErrConfigInvalid)
	}
	switch c.FusionPolicy {
	case PolicyWeightedAverage, PolicyConfidenceBased, PolicyAdaptive:
	default:
		return fmt.Errorf("%w: unsupported fusionPolicy: %s", ErrConfigInvalid, c.FusionPolicy)
	}
	if c.InitialWeights.SHA < 0 || c.InitialWeights.Network < 0 || c.InitialWeights.Bio < 0 {
		return fmt.Errorf("%w: initialWeights must be >= 0", ErrConfigInvalid)
	}
	if c.InitialWeights.SHA+c.InitialWeights.Network+c.InitialWeights.Bio <= 0 {
		return fmt.Errorf("%w: at least one initial weight must be > 0", ErrConfigInvalid)
	}
	for name, floor := range map[string]float64{
		"minConfidenceSha":     c.MinConfidenceSha,
		"minConfidenceNetwork": c.MinConfidenceNetwork,
		"minConfidenceBio":     c.MinConfidenceBio,
	} {
		if floor < 0 || floor > 1 {
			return fmt.Errorf("%w: %s must be in [0,1]", ErrConfigInvalid, name)
		}
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("%w: learningRate must be >= 0", ErrConfigInvalid)
	}
	if c.RetroLearningRate < 0 {
		return fmt.Errorf("%w: retroLearningRate must be >= 0", ErrConfigInvalid)
	}
	if c.Decay <= 0 || c.Decay >= 1 {
		return fmt.Errorf("%w: decay must be in (0,1)", ErrConfigInvalid)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("%w: momentum must be in [0,1)", ErrConfigInvalid)
	}
	for i, size := range c.HiddenLayers {
		if size <= 0 {
			return fmt.Errorf("%w: hiddenLayers[%d] must be > 0", ErrConfigInvalid, i)
		}
	}
	if c.HistoryDepth <= 0 {
		return fmt.Errorf("%w: historyDepth must be > 0", ErrConfigInvalid)
	}
	if c.AdaptationRate < 0 || c.AdaptationRate > 1 {
		return fmt.Errorf("%w: adaptationRate must be in [0,1]", ErrConfigInvalid)
	}
	if c.WeightAdaptEvery <= 0 {
		return fmt.Errorf("%w: weightAdaptEvery must be > 0", ErrConfigInvalid)
	}
	switch c.TargetMode {
	case TargetModePrefix:
		if c.Target != "" && !isLowerHex(c.Target) {
			return fmt.Errorf("%w: prefix target must be lowercase hex", ErrConfigInvalid)
		}
		if len(c.Target) > 64 {
			return fmt.Errorf("%w: prefix target longer than 64 hex chars", ErrConfigInvalid)
		}
	case TargetModeInteger:
		if _, err := ParseTargetInteger(c.Target); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
	default:
		return fmt.Errorf("%w: unsupported targetMode: %s", ErrConfigInvalid, c.TargetMode)
	}
	return nil
}

// NormalizedWeights returns the initial fusion weights normalized to sum to 1.
func (c Config) NormalizedWeights() model.FusionWeights {
	return model.FusionWeights{
		SHA:     c.InitialWeights.SHA,
		Network: c.InitialWeights.Network,
		Bio:     c.InitialWeights.Bio,
	}.Normalized()
}

// ParseTargetInteger parses the integer-mode target: a decimal string, or hex
// with an 0x prefix. The value must fit in 256 bits and be non-negative.
func ParseTargetInteger(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("integer target is required")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	value, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("malformed integer target: %s", s)
	}
	if value.Sign() < 0 {
		return nil, errors.New("integer target must be >= 0")
	}
	if value.BitLen() > 256 {
		return nil, errors.New("integer target exceeds 256 bits")
	}
	return value, nil
}

func isLowerHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
