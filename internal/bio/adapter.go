// Package bio adapts biological compute (a live MEA culture or its
// simulation) to the candidate-producer contract. Adapters never surface
// capture failures to the search path: anything that goes wrong becomes an
// invalid zero-strength BioResponse.
package bio

import (
	"context"
	"errors"

	"hnse/internal/model"
)

// ErrBadState reports an operation attempted from a connection state that
// does not permit it.
var ErrBadState = errors.New("bio adapter in wrong state")

// Adapter is the capability set shared by the real and simulated variants.
type Adapter interface {
	// ApplyStimulus issues one stimulation pattern. Only permitted while
	// Connected (or Streaming).
	ApplyStimulus(ctx context.Context, pattern model.StimulusPattern) error
	// CaptureResponse returns the most recent culture response, blocking up
	// to the adapter's configured wait. A missed capture returns an invalid
	// response, never an error.
	CaptureResponse(ctx context.Context) model.BioResponse
	// StimulateAndCapture is the combined round used by the bio producer.
	StimulateAndCapture(ctx context.Context, pattern model.StimulusPattern) model.BioResponse
	// ReinforcePattern feeds an outcome back into the culture or simulator.
	ReinforcePattern(pattern model.StimulusPattern, nonce uint32, reward float64) error
	// Diagnostic reports the adapter's health snapshot.
	Diagnostic() Diagnostics
	// Reset leaves the Error state and returns to Disconnected.
	Reset() error
}

// Diagnostics is the health snapshot every adapter variant reports.
type Diagnostics struct {
	State            State   `json:"state"`
	StimuliApplied   uint64  `json:"stimuli_applied"`
	CapturesReturned uint64  `json:"captures_returned"`
	CapturesMissed   uint64  `json:"captures_missed"`
	LastQuality      float64 `json:"last_quality"`
}
