// Package feature derives the 60-slot header feature vector and the stimulus
// pattern sent to the bio adapter. Everything here is pure and deterministic:
// equal inputs produce byte-identical outputs.
package feature

import (
	"encoding/hex"
	"math"

	"hnse/internal/model"
)

const (
	// DefaultDurationMs is the stimulus duration when the caller has no
	// override.
	DefaultDurationMs = 100.0

	// Stimulus frequencies are mapped into [MinFrequencyHz, MaxFrequencyHz].
	MinFrequencyHz = 50.0
	MaxFrequencyHz = 150.0

	secondsPerDay = 86400.0
)

// Extract maps a block header and its difficulty to the fixed 60-slot feature
// layout:
//
//	 0..9   normalized timestamp and log-scaled difficulty, alternating
//	10..19  prev-hash bytes 0..9, normalized to [0,1]
//	20..29  merkle-root bytes 0..9, normalized to [0,1]
//	30..39  entropy and leading-zero derived values
//	40..49  prev-hash bytes 10..19
//	50..59  merkle-root bytes 10..19
//
// Unavailable hash bytes pad with zero.
func Extract(header model.BlockHeader, difficulty float64) []float64 {
	features := make([]float64, model.ElectrodeCount)

	normTimestamp := math.Mod(float64(header.Timestamp), secondsPerDay) / secondsPerDay
	logDifficulty := clamp(math.Log10(math.Abs(difficulty)+1)/10, -1, 1)
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			features[i] = normTimestamp
		} else {
			features[i] = logDifficulty
		}
	}

	prevBytes := hashBytes(header.PrevHash, 20)
	merkleBytes := hashBytes(header.MerkleRoot, 20)
	for i := 0; i < 10; i++ {
		features[10+i] = prevBytes[i]
		features[20+i] = merkleBytes[i]
		features[40+i] = prevBytes[10+i]
		features[50+i] = merkleBytes[10+i]
	}

	prevEntropy := ShannonEntropy(header.PrevHash)
	merkleEntropy := ShannonEntropy(header.MerkleRoot)
	leadingZeros := float64(LeadingZeros(header.PrevHash))
	derived := []float64{
		prevEntropy / 4,
		merkleEntropy / 4,
		leadingZeros / 64,
		(prevEntropy + merkleEntropy) / 8,
		(prevEntropy / 4) * (leadingZeros / 64),
	}
	for i := 0; i < 10; i++ {
		features[30+i] = derived[i%len(derived)]
	}

	return features
}

// ToStimulus converts a feature vector into a per-channel stimulus pattern.
// Every amplitude is bounded by maxVoltage and every frequency lies in
// [MinFrequencyHz, MaxFrequencyHz].
func ToStimulus(features []float64, maxVoltage float64) model.StimulusPattern {
	amplitudes := make([]float64, model.ElectrodeCount)
	frequencies := make([]float64, model.ElectrodeCount)
	energy := 0.0
	for i := range amplitudes {
		f := 0.0
		if i < len(features) {
			f = clamp(features[i], -1, 1)
		}
		amplitude := math.Abs(f) * maxVoltage
		if amplitude > maxVoltage {
			amplitude = maxVoltage
		}
		amplitudes[i] = amplitude
		frequencies[i] = MinFrequencyHz + (f+1)/2*(MaxFrequencyHz-MinFrequencyHz)
		energy += amplitude * amplitude
	}
	return model.StimulusPattern{
		Amplitudes:  amplitudes,
		Frequencies: frequencies,
		DurationMs:  DefaultDurationMs,
		TotalEnergy: energy,
	}
}

// ShannonEntropy computes the base-2 Shannon entropy of the hex characters in
// s, in bits per character (maximum 4 for uniformly distributed hex).
func ShannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var counts [16]int
	total := 0
	for _, r := range s {
		v := hexValue(r)
		if v < 0 {
			continue
		}
		counts[v]++
		total++
	}
	if total == 0 {
		return 0
	}
	entropy := 0.0
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// DigestEntropy computes the base-2 Shannon entropy of raw digest bytes, in
// bits per byte (maximum 8).
func DigestEntropy(digest []byte) float64 {
	if len(digest) == 0 {
		return 0
	}
	counts := make(map[byte]int, len(digest))
	for _, b := range digest {
		counts[b]++
	}
	entropy := 0.0
	total := float64(len(digest))
	for _, count := range counts {
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// LeadingZeros counts the leading '0' hex characters of s.
func LeadingZeros(s string) int {
	count := 0
	for _, r := range s {
		if r != '0' {
			break
		}
		count++
	}
	return count
}

// hashBytes decodes a lowercase hex string and returns the first n bytes
// normalized to [0,1], zero-padded when the hash is shorter than n bytes.
func hashBytes(hexHash string, n int) []float64 {
	out := make([]float64, n)
	if len(hexHash)%2 == 1 {
		hexHash = hexHash[:len(hexHash)-1]
	}
	raw, err := hex.DecodeString(hexHash)
	if err != nil {
		return out
	}
	for i := 0; i < n && i < len(raw); i++ {
		out[i] = float64(raw[i]) / 255.0
	}
	return out
}

func hexValue(r rune) int {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0')
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10
	case r >= 'A' && r <= 'F':
		return int(r-'A') + 10
	default:
		return -1
	}
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
