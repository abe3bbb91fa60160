// Package location supplies the latest known coordinate to the capture screen.
package location

import (
	"errors"
	"sync"

	"github.com/menta2k/breed-camera/pkg/types"
)

var (
	ErrPermissionDenied   = errors.New("location: permission denied")
	ErrPermissionRequired = errors.New("location: permission not requested")
)

// Provider is the location capability. Consumers keep only the latest
// coordinate received on Updates.
type Provider interface {
	RequestPermission() error
	StartUpdating() error
	StopUpdating()
	Updates() <-chan types.Coordinate
}

// FeedConfig configures a Feed
type FeedConfig struct {
	// Initial is published as soon as updates start, if set
	Initial *types.Coordinate
	// Denied makes RequestPermission fail
	Denied bool
}

// Feed is a Provider driven by Publish. Only the newest unread coordinate is
// kept; older ones are replaced.
type Feed struct {
	config  FeedConfig
	updates chan types.Coordinate

	mu        sync.Mutex
	permitted bool
	updating  bool
}

// NewFeed creates a Feed
func NewFeed(config FeedConfig) *Feed {
	return &Feed{
		config:  config,
		updates: make(chan types.Coordinate, 1),
	}
}

// NewStatic creates a Feed that reports one fixed position
func NewStatic(latitude, longitude float64) *Feed {
	return NewFeed(FeedConfig{Initial: &types.Coordinate{Latitude: latitude, Longitude: longitude}})
}

// RequestPermission asks for when-in-use access
func (f *Feed) RequestPermission() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.config.Denied {
		return ErrPermissionDenied
	}
	f.permitted = true
	return nil
}

// StartUpdating begins delivering coordinates
func (f *Feed) StartUpdating() error {
	f.mu.Lock()
	if !f.permitted {
		f.mu.Unlock()
		if f.config.Denied {
			return ErrPermissionDenied
		}
		return ErrPermissionRequired
	}
	f.updating = true
	initial := f.config.Initial
	f.mu.Unlock()

	if initial != nil {
		f.Publish(*initial)
	}
	return nil
}

// StopUpdating stops delivery; Publish becomes a no-op until restarted
func (f *Feed) StopUpdating() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updating = false
}

// Updates returns the coordinate channel
func (f *Feed) Updates() <-chan types.Coordinate {
	return f.updates
}

// Publish reports a new position. It reports whether the position was
// accepted (updates are running).
func (f *Feed) Publish(c types.Coordinate) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.updating {
		return false
	}
	for {
		select {
		case f.updates <- c:
			return true
		default:
		}
		select {
		case <-f.updates:
		default:
		}
	}
}

// Updating reports whether updates are running
func (f *Feed) Updating() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updating
}
