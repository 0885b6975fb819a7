package model

import "testing"

func TestHeaderEncodeParseRoundTrip(t *testing.T) {
	h := BlockHeader{
		Version:    1,
		PrevHash:   "00ff",
		MerkleRoot: "aa00",
		Timestamp:  1700000000,
		Bits:       "1d00ffff",
	}
	encoded := h.Encode()
	if encoded != "1|00ff|aa00|1700000000|1d00ffff" {
		t.Fatalf("unexpected encoding: %s", encoded)
	}

	parsed, err := ParseHeader(encoded)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: %+v != %+v", parsed, h)
	}
}

func TestHeaderWithNonce(t *testing.T) {
	h := BlockHeader{Version: 1, PrevHash: "00ff", MerkleRoot: "aa00", Timestamp: 1700000000, Bits: "1d00ffff"}
	if got := h.WithNonce(42); got != "1|00ff|aa00|1700000000|1d00ffff42" {
		t.Fatalf("unexpected nonce append: %s", got)
	}
	if got := h.WithNonce(0); got != "1|00ff|aa00|1700000000|1d00ffff0" {
		t.Fatalf("unexpected zero nonce append: %s", got)
	}
}

func TestHeaderEncodeLowercasesHex(t *testing.T) {
	h := BlockHeader{Version: 1, PrevHash: "00FF", MerkleRoot: "AA00", Timestamp: 1, Bits: "1D00FFFF"}
	if got := h.Encode(); got != "1|00ff|aa00|1|1d00ffff" {
		t.Fatalf("hex fields must be lowercase: %s", got)
	}
}

func TestParseHeaderRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"1|00ff|aa00|1700000000",
		"1|00ff|aa00|1700000000|1d00ffff|extra",
		"x|00ff|aa00|1700000000|1d00ffff",
		"1|00ff|aa00|notatime|1d00ffff",
	}
	for _, in := range cases {
		if _, err := ParseHeader(in); err == nil {
			t.Fatalf("expected parse error for %q", in)
		}
	}
}
