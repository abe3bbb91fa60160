// Package classifier holds the inference-engine handle shared by the camera
// screen.
//
// An Engine turns an image into the delimited prediction string understood by
// package prediction ("confidence-code,..."), ranked by confidence. A Session
// wraps one Engine with an explicit lifecycle and a broadcast channel for
// results produced from the live preview stream. The application's
// composition root owns the Session and hands it to whoever needs it.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/menta2k/breed-camera/internal/log"
)

var (
	// ErrNotInitialized is returned when the session is used before EnsureInitialized
	ErrNotInitialized = errors.New("classifier: session not initialized")

	// ErrSessionClosed is returned after Shutdown
	ErrSessionClosed = errors.New("classifier: session closed")
)

// Engine runs a model over one image. Classify blocks until the result is
// ready; an empty string means nothing was recognised.
type Engine interface {
	Init(ctx context.Context) error
	Classify(ctx context.Context, img image.Image) (string, error)
	Close() error
}

// Resetter is implemented by engines that keep state between live frames
type Resetter interface {
	Reset()
}

// Session is the explicit handle to an inference engine
type Session struct {
	engine Engine
	log    *slog.Logger

	mu          sync.Mutex
	initialized bool
	closed      bool
	sub         chan string
}

// NewSession wraps engine. A nil logger selects the package default.
func NewSession(engine Engine, logger *slog.Logger) *Session {
	if logger == nil {
		logger = log.With("component", "classifier")
	}
	return &Session{engine: engine, log: logger}
}

// EnsureInitialized initializes the engine once. Later calls are no-ops.
func (s *Session) EnsureInitialized(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.initialized {
		return nil
	}
	if err := s.engine.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	s.initialized = true
	s.log.Debug("engine initialized")
	return nil
}

// Valid reports whether the engine is ready for Classify
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized && !s.closed
}

// Shutdown releases the engine. The session cannot be reused afterwards.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.sub = nil
	if !s.initialized {
		return nil
	}
	if err := s.engine.Close(); err != nil {
		return fmt.Errorf("failed to close engine: %w", err)
	}
	return nil
}

// Classify runs the engine synchronously. The boolean is false when the engine
// is unavailable, failed, or recognised nothing; failures are logged, not
// returned.
func (s *Session) Classify(ctx context.Context, img image.Image) (string, bool) {
	if !s.Valid() {
		s.log.Warn("classify on unavailable session", "error", ErrNotInitialized)
		return "", false
	}
	if img == nil {
		return "", false
	}

	raw, err := s.engine.Classify(ctx, img)
	if err != nil {
		s.log.Warn("classification failed", "error", err)
		return "", false
	}
	if raw == "" {
		return "", false
	}
	return raw, true
}

// Submit classifies a live preview frame and broadcasts the result to the
// current subscriber. Frames are ignored while nobody is subscribed. A frame
// that yields nothing is broadcast as an empty string so that stale overlays
// get cleared.
func (s *Session) Submit(ctx context.Context, frame image.Image) {
	if !s.subscribed() {
		return
	}
	raw, _ := s.Classify(ctx, frame)
	s.publish(raw)
}

// Subscribe registers the single consumer of live results
func (s *Session) Subscribe() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		s.sub = make(chan string, 1)
	}
	return s.sub
}

// Unsubscribe stops broadcasting; the channel is abandoned, not closed
func (s *Session) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub = nil
}

// ResetOverlayState drops any unread live result and clears engine state
// carried between frames
func (s *Session) ResetOverlayState() {
	s.mu.Lock()
	if s.sub != nil {
		select {
		case <-s.sub:
		default:
		}
	}
	s.mu.Unlock()

	if r, ok := s.engine.(Resetter); ok {
		r.Reset()
	}
}

func (s *Session) subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil
}

// publish replaces any unread result with raw
func (s *Session) publish(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return
	}
	for {
		select {
		case s.sub <- raw:
			return
		default:
		}
		select {
		case <-s.sub:
		default:
		}
	}
}
