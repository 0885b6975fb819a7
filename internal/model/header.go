package model

import (
	"fmt"
	"strconv"
	"strings"
)

// BlockHeader is the textual block header the engine mines over. The encoded
// form is pipe-delimited: version|prevHash|merkleRoot|timestamp|bits with
// hashes as lowercase hex. The miner appends the decimal nonce to the encoded
// string before hashing.
type BlockHeader struct {
	Version    uint32 `json:"version"`
	PrevHash   string `json:"prev_hash"`
	MerkleRoot string `json:"merkle_root"`
	Timestamp  int64  `json:"timestamp"`
	Bits       string `json:"bits"`
}

// Encode returns the canonical pipe-delimited header string.
func (h BlockHeader) Encode() string {
	return fmt.Sprintf("%d|%s|%s|%d|%s",
		h.Version,
		strings.ToLower(h.PrevHash),
		strings.ToLower(h.MerkleRoot),
		h.Timestamp,
		strings.ToLower(h.Bits),
	)
}

// WithNonce returns the byte string that is hashed during validation:
// the encoded header with the decimal nonce appended.
func (h BlockHeader) WithNonce(nonce uint32) string {
	return h.Encode() + strconv.FormatUint(uint64(nonce), 10)
}

// ParseHeader parses the pipe-delimited header form produced by Encode.
func ParseHeader(s string) (BlockHeader, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 5 {
		return BlockHeader{}, fmt.Errorf("header must have 5 pipe-delimited fields, got %d", len(parts))
	}
	version, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return BlockHeader{}, fmt.Errorf("parse header version: %w", err)
	}
	timestamp, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return BlockHeader{}, fmt.Errorf("parse header timestamp: %w", err)
	}
	return BlockHeader{
		Version:    uint32(version),
		PrevHash:   strings.ToLower(parts[1]),
		MerkleRoot: strings.ToLower(parts[2]),
		Timestamp:  timestamp,
		Bits:       strings.ToLower(parts[4]),
	}, nil
}
