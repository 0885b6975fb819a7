// Package fusion runs one mining cycle: three concurrent candidate
// producers, a fusion policy, method selection, and validation against the
// target.
package fusion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"hnse/internal/config"
	"hnse/internal/model"
)

// Target is the difficulty the candidate hash must meet: either a hex prefix
// the digest must begin with, or a 256-bit ceiling the digest (read as a
// big-endian integer) must not exceed.
type Target struct {
	mode   string
	prefix string
	value  *big.Int
}

// NewPrefixTarget builds a prefix-mode target. An empty prefix accepts every
// digest.
func NewPrefixTarget(prefix string) Target {
	return Target{mode: config.TargetModePrefix, prefix: strings.ToLower(prefix)}
}

// NewIntegerTarget builds an integer-mode target.
func NewIntegerTarget(value *big.Int) Target {
	return Target{mode: config.TargetModeInteger, value: new(big.Int).Set(value)}
}

// TargetFromConfig builds the target a validated config describes.
func TargetFromConfig(cfg config.Config) (Target, error) {
	switch cfg.TargetMode {
	case config.TargetModePrefix:
		return NewPrefixTarget(cfg.Target), nil
	case config.TargetModeInteger:
		value, err := config.ParseTargetInteger(cfg.Target)
		if err != nil {
			return Target{}, err
		}
		return NewIntegerTarget(value), nil
	default:
		return Target{}, fmt.Errorf("%w: target mode %q", config.ErrConfigInvalid, cfg.TargetMode)
	}
}

// Meets reports whether the digest satisfies the target.
func (t Target) Meets(digest [sha256.Size]byte) bool {
	switch t.mode {
	case config.TargetModeInteger:
		if t.value == nil {
			return false
		}
		return new(big.Int).SetBytes(digest[:]).Cmp(t.value) <= 0
	default:
		return strings.HasPrefix(hex.EncodeToString(digest[:]), t.prefix)
	}
}

// Difficulty is the scalar difficulty hint handed to feature extraction:
// the prefix length in hex characters, or the number of leading zero bits
// the integer ceiling demands.
func (t Target) Difficulty() float64 {
	switch t.mode {
	case config.TargetModeInteger:
		if t.value == nil || t.value.Sign() == 0 {
			return 256
		}
		return float64(256 - t.value.BitLen())
	default:
		return float64(len(t.prefix))
	}
}

// Validate hashes the header with the nonce appended and checks it against
// the target.
func (t Target) Validate(header model.BlockHeader, nonce uint32) (bool, [sha256.Size]byte) {
	digest := sha256.Sum256([]byte(header.WithNonce(nonce)))
	return t.Meets(digest), digest
}
