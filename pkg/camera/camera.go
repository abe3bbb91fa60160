// Package camera defines the camera capability used by the capture
// coordinator and a replay implementation that streams stored frames.
package camera

import (
	"errors"
	"image"

	"github.com/menta2k/breed-camera/pkg/cropper"
)

var (
	ErrNotStreaming  = errors.New("camera: not streaming")
	ErrStillPending  = errors.New("camera: still capture already pending")
	ErrNoFrames      = errors.New("camera: no frames available")
	ErrCameraStopped = errors.New("camera: closed")
)

// EventKind distinguishes camera events
type EventKind int

const (
	// EventFrame is a live preview frame
	EventFrame EventKind = iota
	// EventWillCapture is sent once per still, right before it is taken
	EventWillCapture
	// EventStill carries the still; a nil Image means the capture failed
	EventStill
)

func (k EventKind) String() string {
	switch k {
	case EventFrame:
		return "frame"
	case EventWillCapture:
		return "will_capture"
	case EventStill:
		return "still"
	default:
		return "unknown"
	}
}

// Event is delivered on the camera's event channel
type Event struct {
	Kind        EventKind
	Image       image.Image
	Orientation cropper.Orientation
}

// Camera is the capture device as seen by the coordinator
type Camera interface {
	StartStreaming() error
	StopStreaming()
	IsStreaming() bool
	CaptureStill() error
	Events() <-chan Event
}
