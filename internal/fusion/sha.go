package fusion

import (
	"crypto/sha256"
	"encoding/binary"

	"hnse/internal/feature"
	"hnse/internal/model"
)

// SHACandidate is the deterministic producer: SHA-256 over the encoded
// header, first four digest bytes read little-endian as the nonce, digest
// byte entropy (out of 8 bits) as the confidence.
func SHACandidate(header model.BlockHeader) model.Candidate {
	digest := sha256.Sum256([]byte(header.Encode()))
	return model.Candidate{
		Nonce:      binary.LittleEndian.Uint32(digest[:4]),
		Confidence: clamp01(feature.DigestEntropy(digest[:]) / 8),
		Producer:   model.ProducerSHA256,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
