package capture

import (
	"errors"
	"image"

	"github.com/menta2k/breed-camera/pkg/overlay"
	"github.com/menta2k/breed-camera/pkg/types"
)

var (
	ErrCaptureInFlight = errors.New("capture: still capture already in flight")
	ErrNotPreviewing   = errors.New("capture: camera is not previewing")
	ErrNoLocation      = errors.New("capture: no location known yet")
	ErrClosed          = errors.New("capture: screen closed")
	ErrAlreadyRunning  = errors.New("capture: already running")
	ErrNotRunning      = errors.New("capture: screen not started")
)

// State of the capture screen
type State int

const (
	StateIdle State = iota
	StatePreviewing
	StateAwaitingStill
	StateReviewing
	StateSaved
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreviewing:
		return "previewing"
	case StateAwaitingStill:
		return "awaiting_still"
	case StateReviewing:
		return "reviewing"
	case StateSaved:
		return "saved"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Delegate receives the confirmed payload
type Delegate interface {
	OnPayloadReady(types.Payload)
}

// DelegateFunc adapts a function to Delegate
type DelegateFunc func(types.Payload)

// OnPayloadReady implements Delegate
func (f DelegateFunc) OnPayloadReady(p types.Payload) { f(p) }

// Snapshot is an immutable view of the screen for renderers and tests
type Snapshot struct {
	State          State
	Overlays       []overlay.Label
	TriggerEnabled bool
	Analyzing      bool
	ReviewControls bool
	Frozen         image.Image
	Preview        image.Image
	PayloadStage   types.PayloadStage
	Predictions    []types.Prediction
	Location       *types.Coordinate
	Generation     uint64
}
