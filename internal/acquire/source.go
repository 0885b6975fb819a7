// Package acquire produces the stream of 60-channel electrode frames the
// engine consumes. Two sources exist: a synthetic generator and a wrapper
// around an external device link. Both push into a bounded queue that drops
// the oldest frame under pressure; the search engine tolerates gaps and cares
// about freshness, not completeness.
package acquire

import (
	"context"
	"errors"

	"hnse/internal/model"
)

// ErrNotReady reports that the source cannot produce frames right now
// (device disconnected, source not started).
var ErrNotReady = errors.New("acquisition source not ready")

// DefaultQueueDepth bounds the frame queue of both source variants.
const DefaultQueueDepth = 64

// Source is the acquisition front-end.
type Source interface {
	// Start begins producing frames at rateHz into the frame queue.
	Start(ctx context.Context, rateHz float64) error
	// Stop ends production. Idempotent.
	Stop() error
	// ReadOne returns a single frame synchronously.
	ReadOne(ctx context.Context) (model.ElectrodeFrame, error)
	// Frames exposes the bounded frame queue.
	Frames() <-chan model.ElectrodeFrame
	// Rejected reports how many malformed frames the source discarded.
	Rejected() uint64
}

// offer pushes a frame into a bounded queue, evicting the oldest entry when
// the queue is full. Single-producer only.
func offer(queue chan model.ElectrodeFrame, frame model.ElectrodeFrame) {
	for {
		select {
		case queue <- frame:
			return
		default:
		}
		select {
		case <-queue:
		default:
		}
	}
}
